package cacheerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorMessageIncludesKeyAndKind(t *testing.T) {
	err := New(KindNotFound, "my-key", TreatAsMiss{}, errors.New("no such entry"))
	require.Contains(t, err.Error(), "not_found")
	require.Contains(t, err.Error(), "my-key")
}

func TestIsMatchesWrappedError(t *testing.T) {
	base := New(KindCorrupted, "k", TreatAsMiss{}, errors.New("bad checksum"))
	wrapped := fmt.Errorf("storage: read: %w", base)

	require.True(t, Is(wrapped, KindCorrupted))
	require.False(t, Is(wrapped, KindIO))
}

func TestRecoveryHintVariants(t *testing.T) {
	var hints = []RecoveryHint{Retryable{After: "100ms"}, TreatAsMiss{}, Fatal{Reason: "disk full"}}
	for _, h := range hints {
		switch v := h.(type) {
		case Retryable:
			require.Equal(t, "100ms", v.After)
		case TreatAsMiss:
		case Fatal:
			require.Equal(t, "disk full", v.Reason)
		default:
			t.Fatalf("unexpected hint type %T", v)
		}
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("underlying")
	err := New(KindIO, "k", nil, cause)
	require.Same(t, cause, errors.Unwrap(err))
}
