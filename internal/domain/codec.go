package domain

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// persisted field names; matched exactly, unlike encoding/json struct tags.
const (
	fieldName  = "nombre"
	fieldPrice = "precio"
)

// EncodeItems renders items in the persisted layout: a bare JSON array, never null.
func EncodeItems(items []LineItem) (string, error) {
	if items == nil {
		items = []LineItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("marshal cart items failed: %w", err)
	}
	return string(data), nil
}

// DecodeItems parses the persisted layout strictly. Every element must have
// exactly the keys nombre and precio with the right types, and nothing may
// follow the array. A JSON null is an empty cart.
func DecodeItems(raw string) ([]LineItem, error) {
	dec := json.NewDecoder(strings.NewReader(raw))

	var stored []map[string]json.RawMessage
	if err := dec.Decode(&stored); err != nil {
		return nil, fmt.Errorf("unmarshal cart items failed: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unmarshal cart items failed: trailing data")
	}

	items := make([]LineItem, 0, len(stored))
	for i, fields := range stored {
		item, err := decodeItem(fields)
		if err != nil {
			return nil, fmt.Errorf("cart item %d: %w", i, err)
		}
		items = append(items, item)
	}
	return items, nil
}

func decodeItem(fields map[string]json.RawMessage) (LineItem, error) {
	if fields == nil {
		return LineItem{}, fmt.Errorf("not an object")
	}
	name, okName := fields[fieldName]
	price, okPrice := fields[fieldPrice]
	if !okName || !okPrice || len(fields) != 2 {
		return LineItem{}, fmt.Errorf("want exactly %s and %s", fieldName, fieldPrice)
	}
	if string(name) == "null" || string(price) == "null" {
		return LineItem{}, fmt.Errorf("null %s or %s", fieldName, fieldPrice)
	}

	var item LineItem
	if err := json.Unmarshal(name, &item.Name); err != nil {
		return LineItem{}, fmt.Errorf("%s: %w", fieldName, err)
	}
	if err := json.Unmarshal(price, &item.UnitPrice); err != nil {
		return LineItem{}, fmt.Errorf("%s: %w", fieldPrice, err)
	}
	return item, nil
}

// DecodeItemsOrEmpty never fails: anything DecodeItems rejects is an empty cart.
func DecodeItemsOrEmpty(raw string) []LineItem {
	items, err := DecodeItems(raw)
	if err != nil {
		return []LineItem{}
	}
	return items
}
