package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractEntityID(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		before string
		after  string
		want   string
	}{
		{
			"numeric id appears",
			"https://app.test/projects/new",
			"https://app.test/projects/42",
			"42",
		},
		{
			"uuid id appears",
			"https://app.test/invoices",
			"https://app.test/invoices/0b9fcf14-2f9f-4b0e-8f07-6f3c7a9f2c11",
			"0b9fcf14-2f9f-4b0e-8f07-6f3c7a9f2c11",
		},
		{
			"id before trailing verb",
			"https://app.test/projects",
			"https://app.test/projects/42/edit",
			"42",
		},
		{
			"opaque token id",
			"https://app.test/docs",
			"https://app.test/docs/V1StGXR8Z5jdHi6",
			"V1StGXR8Z5jdHi6",
		},
		{
			"no navigation change",
			"https://app.test/projects/42",
			"https://app.test/projects/42",
			"",
		},
		{
			"plain word segment is not an id",
			"https://app.test/projects",
			"https://app.test/projects/settings",
			"",
		},
		{
			"landing on a list page",
			"https://app.test/projects/new",
			"https://app.test/projects",
			"",
		},
		{
			"id already present before step",
			"https://app.test/projects/42/members",
			"https://app.test/teams/42",
			"",
		},
		{
			"unparseable urls",
			"://bad", "://worse",
			"",
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, ExtractEntityID(tc.before, tc.after))
		})
	}
}
