package main

import (
	"testing"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEvent(t *testing.T, subject string, data interface{}) cloudevents.Event {
	t.Helper()
	e := cloudevents.NewEvent()
	e.SetID("evt-1")
	e.SetSource("//scheduler")
	e.SetType("quote.reconcile")
	e.SetSubject(subject)
	if data != nil {
		require.NoError(t, e.SetData(cloudevents.ApplicationJSON, data))
	}
	return e
}

func TestQuoteIDFromEvent(t *testing.T) {
	id := uuid.New()

	got, err := quoteIDFromEvent(newEvent(t, "", ReconcileRequest{QuoteID: id.String()}))
	require.NoError(t, err)
	assert.Equal(t, id, got)

	got, err = quoteIDFromEvent(newEvent(t, "quotes/"+id.String(), nil))
	require.NoError(t, err)
	assert.Equal(t, id, got)

	got, err = quoteIDFromEvent(newEvent(t, "", nil))
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, got)

	// Subjects from other sources are not quote ids.
	got, err = quoteIDFromEvent(newEvent(t, "projects/acme/buckets/exports", nil))
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, got)

	_, err = quoteIDFromEvent(newEvent(t, "quotes/nope", nil))
	assert.Error(t, err)

	_, err = quoteIDFromEvent(newEvent(t, "", ReconcileRequest{QuoteID: "nope"}))
	assert.Error(t, err)
}
