package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/Aman-CERP/chatindex/internal/message"
	"github.com/Aman-CERP/chatindex/internal/query"
)

const (
	// MessageAnalyzerName tokenizes message text on unicode word
	// boundaries and lower-cases it. No stop words: short chat phrases
	// like "it works" must stay searchable.
	MessageAnalyzerName = "message_text"

	fieldSource     = "source"
	fieldIngestedAt = "ingestedAt"
	fieldIngestion  = "ingestionDate"
	fieldMessageID  = "messageId"
)

// newIndexMapping builds the mapping shared by every index the engine creates.
func newIndexMapping() (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()
	err := im.AddCustomAnalyzer(MessageAnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     unicode.Name,
		"token_filters": []string{lowercase.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add message analyzer: %w", err)
	}
	im.DefaultAnalyzer = MessageAnalyzerName

	text := bleve.NewTextFieldMapping()
	text.Analyzer = MessageAnalyzerName

	keyword := bleve.NewKeywordFieldMapping()

	source := bleve.NewTextFieldMapping()
	source.Index = false
	source.Store = true
	source.IncludeInAll = false
	source.IncludeTermVectors = false
	source.DocValues = false

	doc := bleve.NewDocumentMapping()
	doc.Dynamic = false
	doc.AddFieldMappingsAt(query.FieldText, text)
	doc.AddFieldMappingsAt(query.FieldFilename, text)
	for _, name := range []string{query.FieldTags, query.FieldSender, query.FieldThread, query.FieldFileType, fieldMessageID, fieldIngestion} {
		doc.AddFieldMappingsAt(name, keyword)
	}
	doc.AddFieldMappingsAt(query.FieldHasFiles, bleve.NewBooleanFieldMapping())
	doc.AddFieldMappingsAt(fieldIngestedAt, bleve.NewNumericFieldMapping())
	doc.AddFieldMappingsAt(fieldSource, source)

	im.DefaultMapping = doc
	return im, nil
}

// toDocument flattens a record into the fields the mapping indexes. The
// full record rides along in "source" so merges and hits can rebuild it.
func toDocument(r message.Record) (map[string]interface{}, error) {
	ms, err := r.IngestedAt()
	if err != nil {
		return nil, err
	}
	src, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		query.FieldText:     r.Text,
		query.FieldFilename: strings.Join(r.AttachmentNames, " "),
		query.FieldTags:     documentTags(r),
		query.FieldSender:   r.SenderID,
		query.FieldThread:   r.ThreadID,
		query.FieldFileType: strings.ToLower(r.AttachmentFileType),
		query.FieldHasFiles: r.HasFiles(),
		fieldMessageID:      r.MessageID,
		fieldIngestion:      r.IngestionDate,
		fieldIngestedAt:     float64(ms),
		fieldSource:         string(src),
	}, nil
}

// documentTags merges explicit tags with the ones written in the text.
func documentTags(r message.Record) []string {
	seen := make(map[string]struct{})
	var tags []string
	add := func(tag string) {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			return
		}
		if _, ok := seen[tag]; ok {
			return
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	for _, t := range r.Tags {
		add(t)
	}
	for _, t := range query.HashTags(r.Text) {
		add(t)
	}
	return tags
}

// fromSource rebuilds a record from its stored "source" field.
func fromSource(fields map[string]interface{}) (message.Record, error) {
	var r message.Record
	raw, ok := fields[fieldSource].(string)
	if !ok {
		return r, fmt.Errorf("document has no stored source")
	}
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return r, fmt.Errorf("stored source is corrupt: %w", err)
	}
	return r, nil
}
