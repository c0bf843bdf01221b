package intent

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/keyword-harvester/internal/keyword"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	c := NewClassifier()
	tests := []struct {
		term string
		want keyword.Intent
	}{
		{"onde comprar teclado mecanico", keyword.IntentTransactional},
		{"Cupom desconto steam", keyword.IntentTransactional},
		{"melhor mouse gamer", keyword.IntentCommercial},
		{"iphone vs galaxy", keyword.IntentCommercial},
		{"discord login", keyword.IntentNavigational},
		{"como montar pc gamer", keyword.IntentInformational},
		{"gaming", keyword.IntentInformational},
		{"", keyword.IntentInformational},
		{"best price gpu", keyword.IntentTransactional},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, c.Classify(tt.term), tt.term)
	}
}

func TestClassifyAllPreservesOrder(t *testing.T) {
	t.Parallel()

	got := NewClassifier().ClassifyAll([]string{"gaming", "comprar gpu", "review gpu"})
	require.Equal(t, []keyword.Intent{
		keyword.IntentInformational,
		keyword.IntentTransactional,
		keyword.IntentCommercial,
	}, got)
}

func TestDefaultIsSharedUntilReset(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	var wg sync.WaitGroup
	got := make([]*Classifier, 16)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = Default()
		}(i)
	}
	wg.Wait()
	for _, c := range got {
		require.Same(t, got[0], c)
	}

	Reset()
	require.NotSame(t, got[0], Default())
}
