package sqlparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want string
	}{
		{
			name: "collapses whitespace",
			sql:  "select   dept_code ,\n\tcount( * )  from ovst",
			want: "SELECT dept_code, COUNT(*) FROM ovst",
		},
		{
			name: "strips comments",
			sql:  "SELECT a -- note\nFROM t /* block */ WHERE a = 1",
			want: "SELECT a FROM t WHERE a = 1",
		},
		{
			name: "drops trailing semicolon",
			sql:  "SELECT 1;",
			want: "SELECT 1",
		},
		{
			name: "qualified refs hug dots",
			sql:  "SELECT o . hn FROM ovst o",
			want: "SELECT o.hn FROM ovst o",
		},
		{
			name: "string escapes survive",
			sql:  "SELECT 'it''s' FROM t",
			want: "SELECT 'it''s' FROM t",
		},
		{
			name: "quoted identifier requoted when needed",
			sql:  `SELECT "select" FROM t`,
			want: `SELECT "select" FROM t`,
		},
		{
			name: "quoted plain identifier unquoted",
			sql:  `SELECT "dept_code" FROM t`,
			want: "SELECT dept_code FROM t",
		},
		{
			name: "count distinct",
			sql:  "select count( distinct hn ) from ovst",
			want: "SELECT COUNT(DISTINCT hn) FROM ovst",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.sql)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeIllegalInput(t *testing.T) {
	_, err := Normalize("SELECT a FROM t WHERE a = $1")
	assert.Error(t, err)
}

func TestNormalizeIdempotent(t *testing.T) {
	once, err := Normalize("select  hn , vn from ovst  where vstdate='2024-01-01'")
	require.NoError(t, err)
	twice, err := Normalize(once)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}
