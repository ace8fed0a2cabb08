// Package protocol defines the wire vocabulary exchanged between a
// framed stdio client and the kernel: Submission/Op on the way in,
// Event/EventMsg on the way out, plus the option records nested inside
// a UserTurn.
package protocol

import (
	"encoding/json"
	"fmt"
)

// InputItem is an externally-tagged variant on Type: "text", "image",
// or "local_image". Exactly one of the type-specific fields is set.
type InputItem struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	ImageURL  string `json:"image_url,omitempty"`
	LocalPath string `json:"path,omitempty"`
}

const (
	InputItemText      = "text"
	InputItemImage     = "image"
	InputItemLocalImage = "local_image"
)

// NewTextItem builds a Text input item.
func NewTextItem(text string) InputItem {
	return InputItem{Type: InputItemText, Text: text}
}

// NewImageItem builds an Image input item referencing a URL.
func NewImageItem(url string) InputItem {
	return InputItem{Type: InputItemImage, ImageURL: url}
}

// NewLocalImageItem builds a LocalImage input item referencing a filesystem path.
func NewLocalImageItem(path string) InputItem {
	return InputItem{Type: InputItemLocalImage, LocalPath: path}
}

func (i InputItem) MarshalJSON() ([]byte, error) {
	switch i.Type {
	case InputItemText:
		return json.Marshal(struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{InputItemText, i.Text})
	case InputItemImage:
		return json.Marshal(struct {
			Type     string `json:"type"`
			ImageURL string `json:"image_url"`
		}{InputItemImage, i.ImageURL})
	case InputItemLocalImage:
		return json.Marshal(struct {
			Type string `json:"type"`
			Path string `json:"path"`
		}{InputItemLocalImage, i.LocalPath})
	default:
		return nil, fmt.Errorf("protocol: unknown input item type %q", i.Type)
	}
}

func (i *InputItem) UnmarshalJSON(data []byte) error {
	var peek struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &peek); err != nil {
		return err
	}
	switch peek.Type {
	case InputItemText:
		var v struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*i = InputItem{Type: InputItemText, Text: v.Text}
	case InputItemImage:
		var v struct {
			ImageURL string `json:"image_url"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*i = InputItem{Type: InputItemImage, ImageURL: v.ImageURL}
	case InputItemLocalImage:
		var v struct {
			Path string `json:"path"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*i = InputItem{Type: InputItemLocalImage, LocalPath: v.Path}
	default:
		return fmt.Errorf("protocol: unknown input item type %q", peek.Type)
	}
	return nil
}
