package decoder

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func word(hexValue string) string {
	return strings.Repeat("0", 64-len(hexValue)) + hexValue
}

func TestParseSignature(t *testing.T) {
	sig, err := ParseSignature("transfer(address to, uint256 amount)")
	require.NoError(t, err)
	assert.Equal(t, "transfer", sig.Name)
	assert.Equal(t, "transfer(address,uint256)", sig.Canonical)
	assert.Equal(t, "0xa9059cbb", sig.Selector())
	require.Len(t, sig.Inputs, 2)
	assert.Equal(t, "to", sig.Inputs[0].Name)
	assert.Equal(t, "amount", sig.Inputs[1].Name)

	sig, err = ParseSignature("Transfer(address indexed from,address indexed to,uint256 value)")
	require.NoError(t, err)
	assert.Equal(t, 2, sig.IndexedCount())
	assert.Equal(t, "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef", sig.Topic().Hex())

	sig, err = ParseSignature(" f( uint256  value , bytes32 indexed ) ")
	require.NoError(t, err)
	assert.Equal(t, "f(uint256,bytes32)", sig.Canonical)
	assert.Equal(t, "value", sig.Inputs[0].Name)
	assert.True(t, sig.Inputs[1].Indexed)

	sig, err = ParseSignature("deposit()")
	require.NoError(t, err)
	assert.Empty(t, sig.Inputs)
}

func TestParseSignatureInvalid(t *testing.T) {
	for _, in := range []string{
		"",
		"transfer",
		"(address)",
		"1transfer(address)",
		"transfer(address,)",
		"transfer(adress)",
		"transfer(address a b)",
	} {
		_, err := ParseSignature(in)
		assert.ErrorIs(t, err, ErrInvalidSignature, in)
	}

	_, err := ParseSignature("exactInputSingle((address,address,uint24))")
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestDecodeParametersTransfer(t *testing.T) {
	to := common.HexToAddress("0x1111111111111111111111111111111111111111")
	amount := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	params := word(strings.TrimPrefix(strings.ToLower(to.Hex()), "0x")) + word(amount.Text(16))

	decoded, err := DecodeParameters("transfer(address to,uint256 amount)", params)
	require.NoError(t, err)
	require.Len(t, decoded, 2)

	assert.Equal(t, "to", decoded[0].Name)
	assert.Equal(t, KindAddress, decoded[0].Value.Kind)
	assert.Equal(t, to, decoded[0].Value.Address)

	assert.Equal(t, "amount", decoded[1].Name)
	assert.Equal(t, KindUint, decoded[1].Value.Kind)
	assert.Equal(t, 0, amount.Cmp(decoded[1].Value.Int))

	// Unnamed inputs get positional names
	decoded, err = DecodeParameters("transfer(address,uint256)", "0x"+params)
	require.NoError(t, err)
	assert.Equal(t, "arg0", decoded[0].Name)
	assert.Equal(t, "arg1", decoded[1].Name)
}

func TestDecodeParametersMalformed(t *testing.T) {
	tests := []struct {
		name      string
		signature string
		params    string
	}{
		{"not hex", "transfer(address,uint256)", "zz"},
		{"too short", "transfer(address,uint256)", word("01")},
		{"empty data", "transfer(address,uint256)", ""},
		{"bad signature", "transfer(", word("01")},
		{"offset out of range", "f(bytes)", word("ffff")},
		{"trailing bytes", "transfer(address,uint256)", word("1111111111111111111111111111111111111111") + word("1") + word("2")},
		{"dirty address padding", "transfer(address,uint256)", strings.Repeat("f", 24) + "1111111111111111111111111111111111111111" + word("1")},
		{"dirty uint8 padding", "f(uint8)", "01" + strings.Repeat("0", 60) + "ff"},
		{"data for no parameters", "pause()", word("1")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				params []NamedParam
				err    error
			)
			assert.NotPanics(t, func() {
				params, err = DecodeParameters(tt.signature, tt.params)
			})
			assert.Error(t, err)
			assert.Nil(t, params)
		})
	}
}

func TestEncodeReproducesOriginalBytes(t *testing.T) {
	addr1 := word("1111111111111111111111111111111111111111")
	addr2 := word("2222222222222222222222222222222222222222")

	tests := []struct {
		name      string
		signature string
		params    string
	}{
		{
			name:      "transfer",
			signature: "transfer(address,uint256)",
			params:    addr1 + word("de0b6b3a7640000"),
		},
		{
			name:      "small ints and bool",
			signature: "f(uint8,int32,bool)",
			params:    word("ff") + strings.Repeat("f", 64) + word("1"),
		},
		{
			name:      "address array",
			signature: "swapExactETHForTokens(uint256,address[],address,uint256)",
			params: word("64") + word("80") + addr1 + word("5f5e100") +
				word("2") + addr1 + addr2,
		},
		{
			name:      "string and bytes",
			signature: "f(string,bytes)",
			params: word("40") + word("80") +
				word("5") + "68656c6c6f" + strings.Repeat("0", 54) +
				word("3") + "abcdef" + strings.Repeat("0", 58),
		},
		{
			name:      "fixed bytes and fixed array",
			signature: "f(bytes32,uint256[2])",
			params:    strings.Repeat("ab", 32) + word("1") + word("2"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded, err := DecodeParameters(tt.signature, tt.params)
			require.NoError(t, err)

			encoded, err := EncodeParameters(tt.signature, decoded)
			require.NoError(t, err)
			assert.True(t, strings.EqualFold(tt.params, encoded), "got %s", encoded)
		})
	}
}

func TestEncodeParametersErrors(t *testing.T) {
	_, err := EncodeParameters("transfer(address,uint256)", []NamedParam{
		{Name: "to", Value: Param{Kind: KindAddress}},
	})
	assert.ErrorIs(t, err, ErrMalformedData)

	_, err = EncodeParameters("transfer(address,uint256)", []NamedParam{
		{Name: "to", Value: Param{Kind: KindBool}},
		{Name: "amount", Value: Param{Kind: KindUint, Int: big.NewInt(1)}},
	})
	assert.ErrorIs(t, err, ErrMalformedData)

	_, err = EncodeParameters("f(uint8)", []NamedParam{
		{Name: "v", Value: Param{Kind: KindUint, Int: big.NewInt(1 << 20)}},
	})
	assert.Error(t, err)
}

func TestParamJSON(t *testing.T) {
	p := Param{
		Kind: KindArray,
		Type: "address[]",
		Array: []Param{
			{Kind: KindAddress, Type: "address", Address: common.HexToAddress("0x1111111111111111111111111111111111111111")},
		},
	}
	data, err := p.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"array"`)
	assert.Contains(t, string(data), "0x1111111111111111111111111111111111111111")

	var back Param
	require.NoError(t, back.UnmarshalJSON(data))
	assert.Equal(t, p, back)

	wide := Param{Kind: KindUint, Type: "uint256", Int: new(big.Int).Lsh(big.NewInt(1), 200)}
	data, err = wide.MarshalJSON()
	require.NoError(t, err)
	require.NoError(t, back.UnmarshalJSON(data))
	assert.Equal(t, 0, wide.Int.Cmp(back.Int))
}

type countingVisitor struct {
	kinds []Kind
}

func (v *countingVisitor) VisitAddress(string, common.Address) error {
	v.kinds = append(v.kinds, KindAddress)
	return nil
}
func (v *countingVisitor) VisitUint(string, *big.Int) error {
	v.kinds = append(v.kinds, KindUint)
	return nil
}
func (v *countingVisitor) VisitInt(string, *big.Int) error {
	v.kinds = append(v.kinds, KindInt)
	return nil
}
func (v *countingVisitor) VisitBool(string, bool) error {
	v.kinds = append(v.kinds, KindBool)
	return nil
}
func (v *countingVisitor) VisitString(string, string) error {
	v.kinds = append(v.kinds, KindString)
	return nil
}
func (v *countingVisitor) VisitBytes(string, []byte) error {
	v.kinds = append(v.kinds, KindBytes)
	return nil
}
func (v *countingVisitor) VisitArray(_ string, items []Param) error {
	v.kinds = append(v.kinds, KindArray)
	for _, item := range items {
		if err := item.Accept(v); err != nil {
			return err
		}
	}
	return nil
}

func TestParamAccept(t *testing.T) {
	decoded, err := DecodeParameters("f(bool,int8,string,bytes4,address[])",
		word("1")+word("7")+word("a0")+"deadbeef"+strings.Repeat("0", 56)+word("e0")+
			word("2")+"6869"+strings.Repeat("0", 60)+
			word("1")+word("1111111111111111111111111111111111111111"))
	require.NoError(t, err)

	v := &countingVisitor{}
	for _, p := range decoded {
		require.NoError(t, p.Value.Accept(v))
	}
	assert.Equal(t, []Kind{KindBool, KindInt, KindString, KindBytes, KindArray, KindAddress}, v.kinds)

	assert.Error(t, Param{Kind: "tuple"}.Accept(v))
}
