package collector

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractCandidates(t *testing.T) {
	t.Parallel()

	text := "Novo #SpeedRun do @Gamer.BR hoje! veja https://example.com/x?y=1 e www.site.com 12345 top jogo incrível"
	got := ExtractCandidates(text)
	require.Equal(t, []string{"speedrun", "gamer.br", "novo", "hoje", "veja", "jogo", "incrível"}, got)
}

func TestExtractCandidatesDropsShortAndNumeric(t *testing.T) {
	t.Parallel()

	require.Empty(t, ExtractCandidates("a bb ccc 2024 #12 <@123456789>"))
}

func TestDedupeCap(t *testing.T) {
	t.Parallel()

	in := []string{"Gaming", "alpha", " beta ", "ALPHA", "", "gamma", "delta"}
	require.Equal(t, []string{"alpha", "beta", "gamma"}, DedupeCap(in, "gaming", 3))
	require.Equal(t, []string{"alpha", "beta", "gamma", "delta"}, DedupeCap(in, "gaming", 10))
	require.Empty(t, DedupeCap(in, "gaming", 0))
	require.NotNil(t, DedupeCap(nil, "gaming", 5))
}
