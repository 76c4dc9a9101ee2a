package main

import (
	"bytes"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/icd-code-search/internal/vocabulary"
)

func TestTranspose(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	got := transpose("type 2 diabetes", rng)
	assert.NotEqual(t, "type 2 diabetes", got)
	assert.Len(t, got, len("type 2 diabetes"))
	assert.Contains(t, got, "type 2 ")

	assert.Equal(t, "e11 flu", transpose("e11 flu", rng), "nothing long enough to swap")
}

func TestDeriveQueries(t *testing.T) {
	store, err := vocabulary.NewStore("test", []vocabulary.Record{
		{Code: "E11.9", Description: "Type 2 diabetes mellitus without complications"},
		{Code: "E11.65", Description: "Type 2 diabetes mellitus with hyperglycemia"},
		{Code: "I10", Description: "Essential hypertension"},
	})
	require.NoError(t, err)

	queries := deriveQueries(store, rand.New(rand.NewPCG(1, 1)))
	assert.Contains(t, queries, "type 2 diabetes mellitus without complications")
	assert.Contains(t, queries, "type 2 diabetes mellitus without compli")
	assert.Contains(t, queries, "essential hypert")
	assert.Contains(t, queries, "E11")
	assert.Contains(t, queries, "I10")
	assert.Len(t, queries, 3*3+2)
}

func TestPercentile(t *testing.T) {
	var lat []time.Duration
	for i := 1; i <= 100; i++ {
		lat = append(lat, time.Duration(i)*time.Millisecond)
	}
	assert.Equal(t, 50*time.Millisecond, percentile(lat, 50))
	assert.Equal(t, 99*time.Millisecond, percentile(lat, 99))
	assert.Equal(t, time.Millisecond, percentile(lat[:1], 99))
	assert.Zero(t, percentile(nil, 50))
}

func TestReport(t *testing.T) {
	rec := newRecorder()
	assert.False(t, report(&bytes.Buffer{}, rec, time.Second))

	rec.add(sample{kind: "text", latency: 3 * time.Millisecond, status: 200, zero: true})
	rec.add(sample{kind: "code", latency: time.Millisecond, status: 200})
	rec.add(sample{kind: "text", status: 0, err: assert.AnError})

	var out bytes.Buffer
	require.True(t, report(&out, rec, time.Second))
	assert.Contains(t, out.String(), "Requests:     3")
	assert.Contains(t, out.String(), "Failures:     1")
	assert.Contains(t, out.String(), "200: 2")
}
