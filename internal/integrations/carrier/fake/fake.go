package fake

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/BearBump/TrackSync/internal/integrations/carrier"
	"github.com/BearBump/TrackSync/internal/models"
	"github.com/pkg/errors"
)

// FakeClient отдаёт детерминированные страницы SSW по (document, invoice),
// чтобы воркер можно было гонять локально без доступа к сайту перевозчика.
type FakeClient struct {
	now func() time.Time
}

func New() *FakeClient {
	return &FakeClient{now: func() time.Time { return time.Now().UTC() }}
}

var steps = []struct {
	unit   string
	city   string
	status string
}{
	{"0001", "SAO PAULO / SP", "MERCADORIA RECEBIDA PARA TRANSPORTE  (SSW WebAPI Parceiro)."},
	{"0001", "SAO PAULO / SP", "SAIDA DE UNIDADE  82"},
	{"0048", "RIO DE JANEIRO / RJ", "CHEGADA NA UNIDADE  84"},
	{"0048", "RIO DE JANEIRO / RJ", "SAIDA PARA ENTREGA  85"},
	{"0048", "RIO DE JANEIRO / RJ", "MERCADORIA ENTREGUE  01"},
}

func (f *FakeClient) Fetch(ctx context.Context, ref models.ShipmentRef) (carrier.RawPage, error) {
	if err := ctx.Err(); err != nil {
		return carrier.RawPage{}, errors.Wrap(carrier.ErrTransport, err.Error())
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(ref.Document))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(ref.InvoiceNumber))
	v := h.Sum32()

	// 20% накладных "ещё не в системе" перевозчика
	if v%5 == 0 {
		return carrier.RawPage{}, errors.Wrap(carrier.ErrNotFound, "fake: no record")
	}

	return carrier.RawPage{
		Shipment:  ref,
		Body:      []byte(Page(int(v%uint32(len(steps))) + 1)),
		FetchedAt: f.now(),
	}, nil
}

// Page renders an SSW-like result page with the first n steps, newest first
// as the carrier prints them.
func Page(n int) string {
	if n > len(steps) {
		n = len(steps)
	}
	base := time.Date(2025, 11, 18, 8, 0, 0, 0, time.UTC)
	var b strings.Builder
	b.WriteString("<html><body><table class=\"tabela\">\n")
	for i := n - 1; i >= 0; i-- {
		s := steps[i]
		at := base.Add(time.Duration(i) * 7 * time.Hour)
		fmt.Fprintf(&b, "<tr><td><p class=\"tdb\">%s</p></td><td><p class=\"tdb\">%s%s<br>%s</p></td><td><p class=\"tdb\">%s</p></td></tr>\n",
			s.unit, s.city, at.Format("02/01/06"), at.Format("15:04"), s.status)
	}
	b.WriteString("</table></body></html>\n")
	return b.String()
}
