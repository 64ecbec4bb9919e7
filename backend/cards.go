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
	"sort"

	"github.com/pkg/errors"

	"gitlab.com/transcrobes/offline-proxy/storage"
)

// CardsCollection holds one record per studied card. Each card has a "wordId",
// the word's "graph" and a "known" flag.
const CardsCollection = "cards"

// GetAllFromDBMessage is the value of a getAllFromDB message.
type GetAllFromDBMessage struct {
	Collection string `json:"collection"`
}

// CardWords is the reply to getCardWords.
type CardWords struct {
	// AllCardWordGraphs are the graphs of every word with a card.
	AllCardWordGraphs []string `json:"allCardWordGraphs"`

	// KnownCardWordGraphs are the graphs of words with a known card.
	KnownCardWordGraphs []string `json:"knownCardWordGraphs"`

	// KnownWordIdsCounter counts the known cards of each word ID.
	KnownWordIdsCounter map[string]int `json:"knownWordIdsCounter"`
}

func (h *Handler) getAllFromDB(
	_ context.Context, _ string, value json.RawMessage) (any, error) {
	var msg GetAllFromDBMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return nil, errors.Wrap(err, "failed to decode getAllFromDB message")
	}
	if msg.Collection == "" {
		return nil, errors.New("collection is required")
	}

	db, err := h.database()
	if err != nil {
		return nil, err
	}

	var records []storage.Record
	err = db.View(msg.Collection, func(c *storage.Collection) error {
		records, _ = c.List(storage.Query{})
		return nil
	})
	return records, err
}

func (h *Handler) getCardWords(
	context.Context, string, json.RawMessage) (any, error) {
	db, err := h.database()
	if err != nil {
		return nil, err
	}

	all := make(map[string]bool)
	known := make(map[string]bool)
	cw := CardWords{KnownWordIdsCounter: make(map[string]int)}
	err = db.View(CardsCollection, func(c *storage.Collection) error {
		cards, _ := c.List(storage.Query{})
		for _, card := range cards {
			graph, _ := card["graph"].(string)
			if graph == "" {
				continue
			}
			all[graph] = true
			if isKnown, _ := card["known"].(bool); isKnown {
				known[graph] = true
				if id, exists := card["wordId"]; exists && id != nil {
					cw.KnownWordIdsCounter[storageKey(id)]++
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	cw.AllCardWordGraphs = sortedKeys(all)
	cw.KnownCardWordGraphs = sortedKeys(known)
	return cw, nil
}

// storageKey renders a JSON ID the way JSON object keys are written.
func storageKey(id any) string {
	b, err := json.Marshal(id)
	if err != nil {
		return ""
	}
	if s, ok := id.(string); ok {
		return s
	}
	return string(b)
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
