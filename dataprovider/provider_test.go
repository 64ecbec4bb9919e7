////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package dataprovider

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"gitlab.com/transcrobes/offline-proxy/proxy"
	"gitlab.com/transcrobes/offline-proxy/worker"
)

// recordingSender records envelopes and returns a fixed reply.
type recordingSender struct {
	envs  []proxy.Envelope
	reply json.RawMessage
	err   error
}

func (r *recordingSender) SendMessage(
	_ context.Context, env proxy.Envelope) (json.RawMessage, error) {
	r.envs = append(r.envs, env)
	return r.reply, r.err
}

// Tests that every verb sends a DataProvider envelope carrying the verb, the
// collection and the params untouched.
func TestProvider_Verbs(t *testing.T) {
	s := &recordingSender{reply: json.RawMessage(`{"data":{}}`)}
	p := New(s, "test")

	verbs := map[Method]func(context.Context, string, any) (json.RawMessage, error){
		GetList:          p.GetList,
		GetOne:           p.GetOne,
		GetMany:          p.GetMany,
		GetManyReference: p.GetManyReference,
		Create:           p.Create,
		Update:           p.Update,
		UpdateMany:       p.UpdateMany,
		Delete:           p.Delete,
		DeleteMany:       p.DeleteMany,
	}
	require.Len(t, verbs, len(Methods))

	for _, m := range Methods {
		params := map[string]any{"verb": string(m)}
		raw, err := verbs[m](context.Background(), "cards", params)
		require.NoError(t, err)
		require.Equal(t, s.reply, raw)

		env := s.envs[len(s.envs)-1]
		require.Equal(t, "test", env.Source)
		require.Equal(t, worker.DataProviderTag, env.Type)
		require.Equal(t, Descriptor{
			Collection: "cards", Method: m, Params: params}, env.Value)
	}
}

// Tests that errors from the sender are returned unchanged.
func TestProvider_ErrorPassthrough(t *testing.T) {
	sendErr := &worker.Error{Kind: worker.WorkerError, Msg: "invalid query"}
	p := New(&recordingSender{err: sendErr}, "test")

	_, err := p.Delete(context.Background(), "cards", DeleteParams{ID: 1})
	require.Same(t, sendErr, err)
}

// Tests a getList request through a real worker connection: the worker sees
// the descriptor as sent and its reply reaches the caller unchanged.
func TestProvider_GetList_EndToEnd(t *testing.T) {
	const reply = `{"data":[{"id":"c1","title":"Alpha"},` +
		`{"id":"c2","title":"Beta"}],"total":37}`

	mainPort, workerPort := worker.NewPipe()
	tm, err := worker.NewThreadManager(workerPort, "testWorker", false)
	require.NoError(t, err)
	defer tm.Stop()

	received := make(chan json.RawMessage, 1)
	tm.RegisterCallback(worker.DataProviderTag, func(_ context.Context,
		_ string, v json.RawMessage) (any, error) {
		received <- v
		return json.RawMessage(reply), nil
	})
	require.NoError(t, tm.SignalReady(context.Background()))

	px, err := proxy.Connect(context.Background(), mainPort, "testProxy",
		worker.DefaultParams())
	require.NoError(t, err)
	defer px.Close()

	p := New(px, "contents-list")
	raw, err := p.GetList(context.Background(), "contents", ListParams{
		Pagination: Pagination{Page: 1, PerPage: 10},
		Sort:       Sort{Field: "title", Order: Ascending},
	})
	require.NoError(t, err)
	require.JSONEq(t, reply, string(raw))

	require.JSONEq(t, `{"collection":"contents","method":"getList",`+
		`"params":{"pagination":{"page":1,"perPage":10},`+
		`"sort":{"field":"title","order":"ASC"}}}`, string(<-received))

	list, err := DecodeList[map[string]string](raw)
	require.NoError(t, err)
	require.Equal(t, 37, list.Total)
	require.Len(t, list.Data, 2)
	require.Equal(t, "Beta", list.Data[1]["title"])
}

func TestDecodeRecord(t *testing.T) {
	type card struct {
		ID   string `json:"id"`
		Word string `json:"word"`
	}
	c, err := DecodeRecord[card](json.RawMessage(`{"data":{"id":"1","word":"好"}}`))
	require.NoError(t, err)
	require.Equal(t, card{ID: "1", Word: "好"}, c)

	_, err = DecodeRecord[card](json.RawMessage(`[1,2]`))
	require.Error(t, err)
}
