package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

const (
	ClientIPContextKey  = "client_ip"
	UserAgentContextKey = "user_agent"
	LocaleContextKey    = "locale"
)

// RequestInfo stores the client IP, user agent and preferred locale in
// Locals. Cloudflare's CF-Connecting-IP takes precedence over the proxy
// chain.
func RequestInfo() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ip := c.Get("CF-Connecting-IP")
		if ip == "" {
			if ips := c.IPs(); len(ips) > 0 {
				ip = ips[0]
			} else {
				ip = c.IP()
			}
		}

		c.Locals(ClientIPContextKey, ip)
		c.Locals(UserAgentContextKey, c.Get(fiber.HeaderUserAgent))
		c.Locals(LocaleContextKey, PrimaryLanguage(c.Get(fiber.HeaderAcceptLanguage)))
		return c.Next()
	}
}

// PrimaryLanguage reduces an Accept-Language header to the first language
// subtag, e.g. "es-MX,es;q=0.9" becomes "es". It defaults to "en".
func PrimaryLanguage(header string) string {
	first, _, _ := strings.Cut(header, ",")
	first, _, _ = strings.Cut(first, ";")
	first, _, _ = strings.Cut(first, "-")
	first = strings.ToLower(strings.TrimSpace(first))
	if first == "" || first == "*" {
		return "en"
	}
	return first
}

func GetClientIP(c *fiber.Ctx) string {
	if ip, ok := c.Locals(ClientIPContextKey).(string); ok {
		return ip
	}
	return c.IP()
}

func GetUserAgent(c *fiber.Ctx) string {
	if ua, ok := c.Locals(UserAgentContextKey).(string); ok {
		return ua
	}
	return c.Get(fiber.HeaderUserAgent)
}

func GetLocale(c *fiber.Ctx) string {
	if locale, ok := c.Locals(LocaleContextKey).(string); ok {
		return locale
	}
	return PrimaryLanguage(c.Get(fiber.HeaderAcceptLanguage))
}
