package carrier

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		body string
		want PageKind
	}{
		{"empty", "   \n", PageMalformed},
		{"no record", `<html><body><p class="titulo">Nenhum documento localizado</p></body></html>`, PageNotFound},
		{"no record accented", `<html><body>Nota fiscal NÃO ENCONTRADA para o CNPJ</body></html>`, PageNotFound},
		{"events", `<html><body><table><tr><td><p class="tdb">0001</p></td></tr></table></body></html>`, PageFound},
		{"no record with shared stylesheet", `<html><head><style>.tdb{font-weight:bold}</style></head><body><p>Nenhum documento localizado</p></body></html>`, PageNotFound},
		{"tdb outside event cells", `<html><body><div class="tdb">Nota fiscal nao localizada</div><span>outdbound</span></body></html>`, PageNotFound},
		{"redesigned", `<html><body><div class="timeline">...</div></body></html>`, PageMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify([]byte(tc.body))
			require.Equal(t, tc.want, got.Kind)
			require.NotEmpty(t, got.Kind.String())
		})
	}
}

func TestClassify_EventsWinOverNoRecordText(t *testing.T) {
	body := `<p class="tdb">0048</p><p class="tdb">SAO PAULO / SP19/11/25 08:36</p><p class="tdb">ENDERECO NAO LOCALIZADO  11</p>`
	require.Equal(t, PageFound, Classify([]byte(body)).Kind)
}
