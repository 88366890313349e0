// Package metadata pulls document and image properties out of sampled file
// heads. Extraction is best effort: truncated or malformed content yields an
// empty map.
package metadata

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"
	"maps"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rwcarlsen/goexif/exif"
)

const docxMime = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// ExtractMetadata returns properties for supported MIME types. Samples longer
// than maxBytes are ignored when maxBytes is positive.
func ExtractMetadata(data []byte, mimeType string, maxBytes int64) map[string]interface{} {
	metadata := make(map[string]interface{})
	if len(data) == 0 || (maxBytes > 0 && int64(len(data)) > maxBytes) {
		return metadata
	}

	switch mimeType {
	case "image/jpeg", "image/tiff":
		maps.Copy(metadata, extractImageMetadata(data))
	case "application/pdf":
		maps.Copy(metadata, extractPDFMetadata(data))
	case docxMime, "application/zip":
		maps.Copy(metadata, extractDOCXMetadata(data))
	}
	return metadata
}

func extractImageMetadata(data []byte) map[string]interface{} {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil
	}

	meta := make(map[string]interface{})
	if tm, err := x.DateTime(); err == nil {
		meta["datetime"] = tm.Format(time.RFC3339)
	}
	if makeTag, err := x.Get(exif.Make); err == nil {
		meta["make"] = makeTag.String()
	}
	if modelTag, err := x.Get(exif.Model); err == nil {
		meta["model"] = modelTag.String()
	}
	if sw, err := x.Get(exif.Software); err == nil {
		meta["software"] = sw.String()
	}
	return meta
}

// extractPDFMetadata reads the document information dictionary.
func extractPDFMetadata(data []byte) (meta map[string]interface{}) {
	// pdfcpu can panic on truncated cross-reference tables
	defer func() {
		if recover() != nil {
			meta = nil
		}
	}()
	info, err := api.PDFInfo(bytes.NewReader(data), "sample.pdf", nil, false, nil)
	if err != nil || info == nil {
		return nil
	}

	meta = make(map[string]interface{})
	if info.Title != "" {
		meta["title"] = info.Title
	}
	if info.Author != "" {
		meta["author"] = info.Author
	}
	if info.Creator != "" {
		meta["creator"] = info.Creator
	}
	if info.Producer != "" {
		meta["producer"] = info.Producer
	}
	return meta
}

// extractDOCXMetadata parses docProps/core.xml. The sample must contain the
// whole archive since the zip directory sits at the end.
func extractDOCXMetadata(data []byte) map[string]interface{} {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil
	}

	var coreFile *zip.File
	for _, f := range r.File {
		if f.Name == "docProps/core.xml" {
			coreFile = f
			break
		}
	}
	if coreFile == nil {
		return nil
	}

	rc, err := coreFile.Open()
	if err != nil {
		return nil
	}
	defer rc.Close()

	type coreProperties struct {
		Title       string `xml:"title"`
		Subject     string `xml:"subject"`
		Creator     string `xml:"creator"`
		Keywords    string `xml:"keywords"`
		Description string `xml:"description"`
	}

	var props coreProperties
	if err := xml.NewDecoder(io.LimitReader(rc, int64(len(data))*4)).Decode(&props); err != nil {
		return nil
	}

	meta := make(map[string]interface{})
	if props.Title != "" {
		meta["title"] = props.Title
	}
	if props.Subject != "" {
		meta["subject"] = props.Subject
	}
	if props.Creator != "" {
		meta["creator"] = props.Creator
	}
	if props.Keywords != "" {
		meta["keywords"] = props.Keywords
	}
	if props.Description != "" {
		meta["description"] = props.Description
	}
	return meta
}
