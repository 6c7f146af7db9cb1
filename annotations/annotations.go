// Package annotations decodes CVAT annotation exports into per image records
package annotations

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

const (
	// ExportFormat is the export format requested from CVAT
	ExportFormat = "CVAT for images 1.1"

	// DocumentEntry is the archive entry holding the annotation document
	DocumentEntry = "annotations.xml"

	// TextKey holds the character data of elements that also carry attributes or children
	TextKey = "#text"
)

var (
	// ErrDocumentMissing is returned when an export archive has no annotation document
	ErrDocumentMissing = errors.New("annotation document missing from archive")
)

// Record is the decoded content of one <image> element. Attributes are plain keys, child
// elements are nested maps, repeated children are lists.
type Record map[string]any

// Name returns the image name as recorded by CVAT
func (r Record) Name() string {
	name, _ := r["name"].(string)
	return name
}

// BaseName returns the image file name without directories or extension
func (r Record) BaseName() string {
	name := path.Base(strings.ReplaceAll(r.Name(), "\\", "/"))
	return strings.TrimSuffix(name, path.Ext(name))
}

type element struct {
	name   string
	values map[string]any
	lists  map[string]bool
	text   strings.Builder
}

func newElement(name string) *element {
	return &element{
		name:   name,
		values: make(map[string]any),
		lists:  make(map[string]bool),
	}
}

func (e *element) add(name string, value any) {
	existing, ok := e.values[name]
	switch {
	case !ok:
		e.values[name] = value
	case e.lists[name]:
		e.values[name] = append(existing.([]any), value)
	default:
		e.values[name] = []any{existing, value}
		e.lists[name] = true
	}
}

func (e *element) value() any {
	text := strings.TrimSpace(e.text.String())
	if len(e.values) == 0 {
		if text == "" {
			return nil
		}
		return text
	}

	if text != "" {
		e.values[TextKey] = text
	}

	return e.values
}

// Decode parses an XML document into nested maps
func Decode(r io.Reader) (map[string]any, error) {
	decoder := xml.NewDecoder(r)
	stack := []*element{newElement("")}

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("Error decoding annotation document: %w", err)
		}

		switch t := token.(type) {
		case xml.StartElement:
			current := newElement(t.Name.Local)
			for _, attr := range t.Attr {
				current.values[attr.Name.Local] = attr.Value
			}
			stack = append(stack, current)
		case xml.EndElement:
			current := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			stack[len(stack)-1].add(current.name, current.value())
		case xml.CharData:
			stack[len(stack)-1].text.Write(t)
		}
	}

	if len(stack) != 1 {
		return nil, fmt.Errorf("Error decoding annotation document: unexpected end of input")
	}

	return stack[0].values, nil
}

// Images returns the <image> entries found under the <annotations> root, always as a list
func Images(document map[string]any) ([]Record, error) {
	root, ok := document["annotations"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("Annotation document has no annotations element")
	}

	switch images := root["image"].(type) {
	case nil:
		return []Record{}, nil
	case map[string]any:
		return []Record{images}, nil
	case []any:
		records := make([]Record, 0, len(images))
		for i, image := range images {
			fields, ok := image.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("Image entry %d has no attributes", i)
			}
			records = append(records, fields)
		}
		return records, nil
	default:
		return nil, fmt.Errorf("Unexpected image entry of type %T", images)
	}
}

// ExtractArchive reads the annotation document out of a zipped export and returns its images
func ExtractArchive(body []byte) ([]Record, error) {
	archive, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, fmt.Errorf("Error opening export archive: %w", err)
	}

	for _, file := range archive.File {
		if file.Name != DocumentEntry {
			continue
		}

		reader, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("Error opening %s in export archive: %w", DocumentEntry, err)
		}
		defer reader.Close()

		document, err := Decode(reader)
		if err != nil {
			return nil, err
		}

		return Images(document)
	}

	return nil, ErrDocumentMissing
}
