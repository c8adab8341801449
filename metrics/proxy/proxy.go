package proxy

import (
	"context"
	"reflect"

	"go.opencensus.io/tag"

	"github.com/aachannels/aachan/api"
	"github.com/aachannels/aachan/api/apistruct"
	"github.com/aachannels/aachan/metrics"
)

// MetricedChannelsAPI times every call of a, tagged with the method name.
func MetricedChannelsAPI(a api.Channels) api.Channels {
	var out apistruct.ChannelsStruct
	proxy(a, &out.Internal)
	proxy(a, &out.CommonStruct.Internal)
	return &out
}

func proxy(in interface{}, out interface{}) {
	rint := reflect.ValueOf(out).Elem()
	ra := reflect.ValueOf(in)

	for f := 0; f < rint.NumField(); f++ {
		field := rint.Type().Field(f)
		fn := ra.MethodByName(field.Name)

		rint.Field(f).Set(reflect.MakeFunc(field.Type, func(args []reflect.Value) (results []reflect.Value) {
			ctx := args[0].Interface().(context.Context)
			// upsert function name into context
			ctx, _ = tag.New(ctx, tag.Upsert(metrics.Endpoint, field.Name))
			stop := metrics.Timer(ctx, metrics.APIRequestDuration)
			defer stop()
			// pass tagged ctx back into function call
			args[0] = reflect.ValueOf(ctx)
			return fn.Call(args)
		}))
	}
}
