package condense

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/novelcondense/novelcondense/internal/core"
)

func creds(rpms ...int) []core.Credential {
	out := make([]core.Credential, 0, len(rpms))
	for i, rpm := range rpms {
		out = append(out, core.Credential{Kind: core.ProviderGemini, Key: "k", Model: "m", RPM: rpm, Index: i})
	}
	return out
}

func TestPoolSize(t *testing.T) {
	cases := []struct {
		name       string
		creds      []core.Credential
		configured int
		want       int
	}{
		{"no credentials", nil, 0, 1},
		{"configured wins", creds(5), 4, 4},
		{"configured clamped", creds(5), 50, 10},
		{"single low rpm", creds(3), 0, 1},
		{"single rpm 10", creds(10), 0, 2},
		{"single capped at free tier", creds(60), 0, 3},
		{"two keys", creds(15, 15), 0, 1},
		{"many keys", creds(15, 15, 15, 15, 15, 15), 0, 3},
		{"many keys capped", creds(60, 60, 60, 60, 60, 60, 60, 60, 60, 60, 60, 60, 60, 60, 60, 60, 60, 60, 60, 60, 60, 60), 0, 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, PoolSize(tc.creds, tc.configured))
		})
	}
}
