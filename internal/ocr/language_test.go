package ocr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetect(t *testing.T) {
	d := NewLanguageDetector()

	tests := []struct {
		text string
		want string
	}{
		{"", ""},
		{"   \n", ""},
		{"12345 67890", ""},
		{"Die Rechnung ist nicht bezahlt.", "ger"},
		{"Größe: 42", "ger"},
		{"This is the invoice that you have.", "eng"},
		{"Le client et les factures des fournisseurs", "fre"},
		{"Los clientes y las facturas que pagó el señor", "spa"},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			require.Equal(t, tt.want, d.Detect(tt.text))
		})
	}
}

func TestBCP47Mapping(t *testing.T) {
	require.Equal(t, "de", ToBCP47("ger"))
	require.Equal(t, "fr", ToBCP47("FRE"))
	require.Equal(t, "", ToBCP47("xxx"))

	require.Equal(t, "ger", FromBCP47("de"))
	require.Equal(t, "eng", FromBCP47("en-US"))
	require.Equal(t, "por", FromBCP47("pt_BR"))
	require.Equal(t, "chs", FromBCP47("zh"))
	require.Equal(t, "cht", FromBCP47("zh-Hant"))
	require.Equal(t, "", FromBCP47(""))
	require.Equal(t, "", FromBCP47("und"))
}
