package decoder

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractSelector(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		want   string
		wantOK bool
	}{
		{name: "prefixed", data: "0xa9059cbb0000", want: "0xa9059cbb", wantOK: true},
		{name: "uppercase normalized", data: "0xA9059CBB", want: "0xa9059cbb", wantOK: true},
		{name: "no prefix", data: "a9059cbb", want: "0xa9059cbb", wantOK: true},
		{name: "upper prefix", data: "0XA9059CBB00", want: "0xa9059cbb", wantOK: true},
		{name: "empty", data: "", wantOK: false},
		{name: "prefix only", data: "0x", wantOK: false},
		{name: "too short", data: "0xa9059c", wantOK: false},
		{name: "odd length", data: "0xa9059cbb0", wantOK: false},
		{name: "non hex", data: "0xzz059cbb", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractSelector(tt.data)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractParameters(t *testing.T) {
	params, ok := ExtractParameters("0xa9059cbbDEADbeef")
	assert.True(t, ok)
	assert.Equal(t, "DEADbeef", params, "original case is preserved")

	_, ok = ExtractParameters("0xa9059cbb")
	assert.False(t, ok, "selector only has no parameters")

	_, ok = ExtractParameters("0x12")
	assert.False(t, ok)
}

func TestSelectorPlusParamsReconstructsInput(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const alphabet = "0123456789abcdefABCDEF"

	for i := 0; i < 200; i++ {
		n := 4 + rng.Intn(100)
		var b strings.Builder
		for j := 0; j < n*2; j++ {
			b.WriteByte(alphabet[rng.Intn(len(alphabet))])
		}
		body := b.String()
		data := body
		if i%2 == 0 {
			data = "0x" + body
		}

		sel, ok := ExtractSelector(data)
		if !assert.True(t, ok, data) {
			continue
		}
		params, _ := ExtractParameters(data)

		assert.True(t, strings.EqualFold(strings.TrimPrefix(sel, "0x")+params, body), data)

		// Deterministic across calls
		sel2, _ := ExtractSelector(data)
		params2, _ := ExtractParameters(data)
		assert.Equal(t, sel, sel2)
		assert.Equal(t, params, params2)
	}
}

func TestNormalizeSelector(t *testing.T) {
	got, ok := NormalizeSelector("A9059CBB")
	assert.True(t, ok)
	assert.Equal(t, "0xa9059cbb", got)

	_, ok = NormalizeSelector("0xa9059cbb00")
	assert.False(t, ok)
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name string
		want Category
	}{
		{"transfer", CategoryTransfer},
		{"transferFrom", CategoryTransfer},
		{"safeTransferFrom", CategoryTransfer},
		{"swapExactTokensForTokens", CategorySwap},
		{"SWAP", CategorySwap},
		{"bridgeETHTo", CategoryBridge},
		{"swapAndBridge", CategorySwap},
		{"approve", CategoryCustom},
		{"", CategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Categorize(tt.name))
		})
	}

	assert.True(t, CategorySwap.Valid())
	assert.False(t, Category("nft").Valid())
}
