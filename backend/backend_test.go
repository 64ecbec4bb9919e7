////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	jww "github.com/spf13/jwalterweatherman"
	"github.com/stretchr/testify/require"

	"gitlab.com/transcrobes/offline-proxy/dataprovider"
	"gitlab.com/transcrobes/offline-proxy/proxy"
	"gitlab.com/transcrobes/offline-proxy/storage"
	"gitlab.com/transcrobes/offline-proxy/worker"
)

func TestMain(m *testing.M) {
	jww.SetStdoutThreshold(jww.LevelDebug)
	os.Exit(m.Run())
}

func testSeed() map[string][]storage.Record {
	contents := make([]storage.Record, 37)
	for i := range contents {
		contents[i] = storage.Record{
			"id":    fmt.Sprintf("c%02d", i),
			"title": fmt.Sprintf("Title %02d", 36-i),
		}
	}
	return map[string][]storage.Record{
		"contents": contents,
		CardsCollection: {
			{"id": "1", "wordId": float64(10), "graph": "好", "known": true},
			{"id": "2", "wordId": float64(10), "graph": "好", "known": true},
			{"id": "3", "wordId": float64(11), "graph": "你", "known": false},
		},
	}
}

// connect serves the store over a pipe and returns a connected proxy.
func connect(t *testing.T, store *storage.Store, hub *Hub) *proxy.Proxy {
	mainPort, workerPort := worker.NewPipe()
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- Serve(ctx, workerPort, "testWorker", store, hub, true) }()

	p, err := proxy.Connect(context.Background(), mainPort, "testProxy",
		worker.DefaultParams())
	require.NoError(t, err)

	t.Cleanup(func() {
		p.Close()
		cancel()
		require.NoError(t, <-served)
	})
	return p
}

func TestHandler_DataProvider(t *testing.T) {
	store := storage.NewStore(storage.SchemaVersion, testSeed())
	p := connect(t, store, nil)
	dp := dataprovider.New(p, "test")
	ctx := context.Background()

	// No database is open before initialise
	_, err := dp.GetList(ctx, "contents", dataprovider.ListParams{})
	require.True(t, worker.IsKind(err, worker.WorkerError))
	require.Equal(t, ErrNoDatabase.Error(), err.Error())

	_, err = p.Init(ctx, "alice")
	require.NoError(t, err)

	raw, err := dp.GetList(ctx, "contents", dataprovider.ListParams{
		Pagination: dataprovider.Pagination{Page: 1, PerPage: 10},
		Sort:       dataprovider.Sort{Field: "title", Order: dataprovider.Ascending},
	})
	require.NoError(t, err)
	list, err := dataprovider.DecodeList[storage.Record](raw)
	require.NoError(t, err)
	require.Equal(t, 37, list.Total)
	require.Len(t, list.Data, 10)
	require.Equal(t, "Title 00", list.Data[0]["title"])
	require.Equal(t, "c36", list.Data[0]["id"])

	raw, err = dp.Create(ctx, "notes", dataprovider.CreateParams{
		Data: map[string]any{"id": "n1", "text": "hello", "contentId": "c01"}})
	require.NoError(t, err)
	note, err := dataprovider.DecodeRecord[storage.Record](raw)
	require.NoError(t, err)
	require.Equal(t, "hello", note["text"])

	raw, err = dp.Update(ctx, "notes", dataprovider.UpdateParams{
		ID: "n1", Data: map[string]any{"text": "bye"}})
	require.NoError(t, err)
	note, err = dataprovider.DecodeRecord[storage.Record](raw)
	require.NoError(t, err)
	require.Equal(t, "bye", note["text"])

	raw, err = dp.GetManyReference(ctx, "notes",
		dataprovider.GetManyReferenceParams{Target: "contentId", ID: "c01"})
	require.NoError(t, err)
	require.JSONEq(t, `{"data":[{"id":"n1","text":"bye","contentId":"c01"}],`+
		`"total":1}`, string(raw))

	raw, err = dp.GetMany(ctx, "contents",
		dataprovider.GetManyParams{IDs: []any{"c02", "c03"}})
	require.NoError(t, err)
	many, err := dataprovider.DecodeRecord[[]storage.Record](raw)
	require.NoError(t, err)
	require.Len(t, many, 2)

	raw, err = dp.UpdateMany(ctx, "contents", dataprovider.UpdateManyParams{
		IDs: []any{"c02", "missing"}, Data: map[string]any{"status": "read"}})
	require.NoError(t, err)
	require.JSONEq(t, `{"data":["c02"]}`, string(raw))

	raw, err = dp.GetOne(ctx, "contents", dataprovider.GetOneParams{ID: "c02"})
	require.NoError(t, err)
	one, err := dataprovider.DecodeRecord[storage.Record](raw)
	require.NoError(t, err)
	require.Equal(t, "read", one["status"])

	_, err = dp.Delete(ctx, "notes", dataprovider.DeleteParams{ID: "n1"})
	require.NoError(t, err)
	_, err = dp.GetOne(ctx, "notes", dataprovider.GetOneParams{ID: "n1"})
	require.True(t, worker.IsKind(err, worker.WorkerError))

	raw, err = dp.DeleteMany(ctx, "contents",
		dataprovider.DeleteManyParams{IDs: []any{"c00", "c01"}})
	require.NoError(t, err)
	require.JSONEq(t, `{"data":["c00","c01"]}`, string(raw))

	_, err = dp.Do(ctx, dataprovider.Descriptor{
		Collection: "contents", Method: "truncate"})
	require.True(t, worker.IsKind(err, worker.WorkerError))
}

func TestHandler_Control(t *testing.T) {
	store := storage.NewStore("1", testSeed())
	p := connect(t, store, nil)
	ctx := context.Background()

	ok, err := p.IsInitialised(ctx, "alice")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = p.Init(ctx, "alice")
	require.NoError(t, err)
	ok, err = p.IsInitialised(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)

	reload, err := p.NeedsReload(ctx)
	require.NoError(t, err)
	require.False(t, reload)

	store.SetSchemaVersion("2")
	reload, err = p.NeedsReload(ctx)
	require.NoError(t, err)
	require.True(t, reload)

	words, err := proxy.Send[CardWords](ctx, p,
		proxy.Envelope{Type: worker.GetCardWordsTag})
	require.NoError(t, err)
	require.Equal(t, []string{"你", "好"}, words.AllCardWordGraphs)
	require.Equal(t, []string{"好"}, words.KnownCardWordGraphs)
	require.Equal(t, map[string]int{"10": 2}, words.KnownWordIdsCounter)

	all, err := proxy.Send[[]storage.Record](ctx, p, proxy.Envelope{
		Type: worker.GetAllFromDBTag, Value: GetAllFromDBMessage{Collection: "contents"}})
	require.NoError(t, err)
	require.Len(t, all, 37)

	require.NoError(t, p.Logout(ctx))
	// The reset is fire-and-forget, so wait for the worker to apply it
	require.Eventually(t, func() bool {
		_, err := p.SendMessage(ctx, proxy.Envelope{
			Type: worker.GetAllFromDBTag, Value: GetAllFromDBMessage{Collection: "contents"}})
		return worker.IsKind(err, worker.WorkerError)
	}, time.Second, 5*time.Millisecond)
}

// Tests that a change to the version file updates the store and pushes
// reloadRequired to connected foregrounds.
func TestVersionWatcher(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema-version")
	store := storage.NewStore("1", nil)
	hub := NewHub()
	p := connect(t, store, hub)

	pushed := make(chan ReloadRequiredMessage, 1)
	p.OnBroadcast(worker.ReloadRequiredTag, func(_ string, v json.RawMessage) {
		var msg ReloadRequiredMessage
		if err := json.Unmarshal(v, &msg); err != nil {
			t.Errorf("Failed to decode push: %+v", err)
		}
		pushed <- msg
	})
	require.Eventually(t, func() bool { return hub.Len() == 1 },
		time.Second, 5*time.Millisecond)

	vw, err := NewVersionWatcher(path, store, hub.ReloadRequired)
	require.NoError(t, err)
	require.Equal(t, "1", store.SchemaVersion())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- vw.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	// Give the watcher time to register the directory
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("2\n"), 0o644))

	select {
	case msg := <-pushed:
		require.Equal(t, "2", msg.SchemaVersion)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reloadRequired push")
	}
	require.Equal(t, "2", store.SchemaVersion())

	reload, err := p.NeedsReload(context.Background())
	require.NoError(t, err)
	require.True(t, reload)
}
