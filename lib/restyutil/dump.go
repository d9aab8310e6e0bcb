package restyutil

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
)

type Output interface {
	Write(id string, contents string) error
}

type dumper struct {
	output    Output
	idcounter *uint64
}

type exchangeIdKeyType int

var exchangeIdKey exchangeIdKeyType

// DumpExchanges writes every request made by the client along with the response it got
// into output, files are numbered in the order requests were started.
// `output` can be nil, in which case this is a no-op.
func DumpExchanges(client *resty.Client, output Output) {
	if output == nil {
		return
	}
	var idcounter uint64
	d := dumper{output: output, idcounter: &idcounter}
	client.OnBeforeRequest(d.onBeforeRequest)
	client.OnAfterResponse(d.onAfterResponse)
}

func (d dumper) onBeforeRequest(_ *resty.Client, req *resty.Request) error {
	id := fmt.Sprintf("%04d.txt", atomic.AddUint64(d.idcounter, 1))
	req.SetContext(context.WithValue(req.Context(), exchangeIdKey, id))
	return nil
}

func (d dumper) onAfterResponse(_ *resty.Client, res *resty.Response) error {
	ctx := res.Request.Context()
	id, ok := ctx.Value(exchangeIdKey).(string)
	if !ok {
		return nil
	}
	err := d.output.Write(id, formatHttpMessage(res))
	if err != nil {
		slog.WarnContext(ctx, "failed to dump exchange", "id", id, "err", err)
	}
	return nil
}
