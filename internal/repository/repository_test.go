package repository

import (
	"context"
	"errors"
	"testing"
)

func TestGlobToLike(t *testing.T) {
	t.Parallel()
	tests := []struct {
		glob string
		want string
	}{
		{"config", "config"},
		{"proposal:*", "proposal:%"},
		{"*:status", "%:status"},
		{"a*b*c", "a%b%c"},
		{"50%_done", `50\%\_done`},
		{`back\slash`, `back\\slash`},
	}
	for _, tc := range tests {
		if got := globToLike(tc.glob); got != tc.want {
			t.Errorf("globToLike(%q) = %q, want %q", tc.glob, got, tc.want)
		}
	}
}

func TestLikePrefix(t *testing.T) {
	t.Parallel()
	tests := []struct {
		prefix string
		want   string
	}{
		{"0007", "0007%"},
		{"", "%"},
		{"a_b", `a\_b%`},
		{"100%", `100\%%`},
	}
	for _, tc := range tests {
		if got := likePrefix(tc.prefix); got != tc.want {
			t.Errorf("likePrefix(%q) = %q, want %q", tc.prefix, got, tc.want)
		}
	}
}

func TestQuery_RejectsNonReadOnly(t *testing.T) {
	t.Parallel()
	r := &Repository{}
	bad := []string{
		"DELETE FROM contracts",
		"UPDATE accounts SET credits_remaining = 0",
		"SELECT 1; DROP TABLE contracts",
		"INSERT INTO blocks VALUES (1, 1)",
		"",
	}
	for _, sql := range bad {
		if _, err := r.Query(context.Background(), sql, nil); !errors.Is(err, ErrQueryNotReadOnly) {
			t.Errorf("Query(%q) err = %v, want ErrQueryNotReadOnly", sql, err)
		}
	}
}
