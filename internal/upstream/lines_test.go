package upstream

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(lines *[]string) func([]byte) error {
	return func(b []byte) error {
		*lines = append(*lines, string(b))
		return nil
	}
}

func TestLineSplitterSplitsAcrossChunks(t *testing.T) {
	s := NewLineSplitter(0)
	var got []string

	require.NoError(t, s.Feed([]byte(`{"machine":"M1"}`+"\n"+`{"mach`), collect(&got)))
	assert.Equal(t, []string{`{"machine":"M1"}`}, got)
	assert.Equal(t, len(`{"mach`), s.Pending())

	require.NoError(t, s.Feed([]byte(`ine":"M2"}`+"\n\n"+`tail`), collect(&got)))
	assert.Equal(t, []string{`{"machine":"M1"}`, `{"machine":"M2"}`, ""}, got)

	require.NoError(t, s.Flush(collect(&got)))
	assert.Equal(t, []string{`{"machine":"M1"}`, `{"machine":"M2"}`, "", "tail"}, got)
	assert.Zero(t, s.Pending())
}

func TestLineSplitterStripsExactlyOneDelimiter(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "LF", input: "a\n", want: []string{"a"}},
		{name: "CRLF", input: "a\r\n", want: []string{"a"}},
		{name: "keeps inner whitespace", input: "  a b \t\n", want: []string{"  a b \t"}},
		{name: "keeps extra CR", input: "a\r\r\n", want: []string{"a\r"}},
		{name: "many", input: "1\n2\n3\n", want: []string{"1", "2", "3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			require.NoError(t, NewLineSplitter(0).Feed([]byte(tt.input), collect(&got)))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLineSplitterByteAtATime(t *testing.T) {
	s := NewLineSplitter(0)
	var got []string
	for _, b := range []byte("L1\nL2\r\nL3\n") {
		require.NoError(t, s.Feed([]byte{b}, collect(&got)))
	}
	assert.Equal(t, []string{"L1", "L2", "L3"}, got)
}

func TestLineSplitterMaxLength(t *testing.T) {
	s := NewLineSplitter(4)
	var got []string

	require.NoError(t, s.Feed([]byte("abcd\n"), collect(&got)))
	assert.Equal(t, []string{"abcd"}, got)

	err := s.Feed([]byte("abc"), collect(&got))
	require.NoError(t, err)
	err = s.Feed([]byte("de"), collect(&got))
	assert.ErrorIs(t, err, ErrLineTooLong)
	assert.Zero(t, s.Pending())

	err = NewLineSplitter(4).Feed([]byte("abcdef\n"), collect(&got))
	assert.ErrorIs(t, err, ErrLineTooLong)
}

func TestLineSplitterStopsOnEmitError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := NewLineSplitter(0).Feed([]byte("a\nb\n"), func([]byte) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestLineSplitterFlushEmpty(t *testing.T) {
	called := false
	require.NoError(t, NewLineSplitter(0).Flush(func([]byte) error {
		called = true
		return nil
	}))
	assert.False(t, called)
}
