package infrastructure

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/hqmx-go/internal/domain"
)

func streamOf(body string) *sseStream {
	return newSSEStream(io.NopCloser(strings.NewReader(body)))
}

func TestSSEStream_DecodesEventsInOrder(t *testing.T) {
	s := streamOf(": keep-alive\n\n" +
		"data: {\"status\":\"progress\",\"percentage\":10}\n\n" +
		"retry: 3000\n\n" +
		"event: message\r\ndata: {\"status\":\"progress\",\"percentage\":40,\"message\":\"Converting\"}\r\n\r\n" +
		"data: {\"status\":\"complete\"}\n\n")

	msg, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, domain.JobMessageProgress, msg.Status)
	require.NotNil(t, msg.Percentage)
	assert.Equal(t, 10.0, *msg.Percentage)

	msg, err = s.Next()
	require.NoError(t, err)
	assert.Equal(t, 40.0, *msg.Percentage)
	assert.Equal(t, "Converting", msg.Message)

	msg, err = s.Next()
	require.NoError(t, err)
	assert.Equal(t, domain.JobMessageComplete, msg.Status)
	assert.Nil(t, msg.Percentage)

	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSSEStream_JoinsMultiLineData(t *testing.T) {
	s := streamOf("data: {\"status\":\n" + "data: \"error\",\"message\":\"boom\"}\n\n")

	msg, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, domain.JobMessageError, msg.Status)
	assert.Equal(t, "boom", msg.Message)
}

func TestSSEStream_LastEventWithoutBlankLine(t *testing.T) {
	s := streamOf("data: {\"status\":\"complete\"}")

	msg, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, domain.JobMessageComplete, msg.Status)
}

func TestSSEStream_InvalidJSON(t *testing.T) {
	s := streamOf("data: not-json\n\n")

	_, err := s.Next()
	assert.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
}

func TestSSEStream_CloseIsIdempotent(t *testing.T) {
	s := streamOf("")
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}
