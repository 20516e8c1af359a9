package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	base := errors.New("disk full")

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{
			name: "plain error has no kind",
			err:  base,
			want: 0,
		},
		{
			name: "new carries kind",
			err:  New(KindValidation, "version is required"),
			want: KindValidation,
		},
		{
			name: "wrap carries kind",
			err:  Wrap(KindStorage, base, "put object"),
			want: KindStorage,
		},
		{
			name: "kind survives further wrapping",
			err:  fmt.Errorf("create artifact: %w", Wrap(KindStorage, base, "put object")),
			want: KindStorage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Fatalf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWrapNil(t *testing.T) {
	if err := Wrap(KindSigning, nil, "resign"); err != nil {
		t.Fatalf("Wrap(nil) = %v, want nil", err)
	}
}

func TestUnwrap(t *testing.T) {
	base := errors.New("no rows")
	err := Wrap(KindNotFound, base, "artifact lookup")
	if !errors.Is(err, base) {
		t.Fatalf("wrapped fault should match the underlying error")
	}
	if !IsNotFound(err) {
		t.Fatalf("IsNotFound() = false, want true")
	}
	if IsConflict(err) {
		t.Fatalf("IsConflict() = true, want false")
	}
}
