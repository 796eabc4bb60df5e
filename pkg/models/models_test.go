package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnswerAcceptsStringsAndNumbers(t *testing.T) {
	var r struct {
		A Answer `json:"a"`
		B Answer `json:"b"`
		C Answer `json:"c"`
		D Answer `json:"d"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a": "B", "b": 42, "c": null, "d": 3.5}`), &r))
	assert.Equal(t, Answer("B"), r.A)
	assert.Equal(t, Answer("42"), r.B)
	assert.Equal(t, Answer(""), r.C)
	assert.Equal(t, Answer("3.5"), r.D)

	assert.Error(t, json.Unmarshal([]byte(`{"a": [1]}`), &r))
}

func TestBeforeCreateKeepsExplicitID(t *testing.T) {
	b := &Base{ID: "fixed"}
	require.NoError(t, b.BeforeCreate(nil))
	assert.Equal(t, "fixed", b.ID)

	empty := &Base{}
	require.NoError(t, empty.BeforeCreate(nil))
	assert.Len(t, empty.ID, 36)
}

func TestResponseAnswered(t *testing.T) {
	assert.False(t, Response{}.Answered())
	assert.True(t, Response{Answer: "A"}.Answered())
}
