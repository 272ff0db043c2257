package fileindex

import (
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/single"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/sha1n/mcp-fileindex-server/internal/domain"
)

// KeywordAnalyzerName indexes a whole value as one case-folded term.
const KeywordAnalyzerName = "lowercase_keyword"

// CreateIndexMapping creates the Bleve index mapping for file documents.
// Metadata fields are mapped dynamically with the default analyzer.
func CreateIndexMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomAnalyzer(KeywordAnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     single.Name,
		"token_filters": []string{lowercase.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add custom analyzer: %w", err)
	}

	docMapping := bleve.NewDocumentMapping()

	// Key is the only stored field; hits are resolved by document ID
	keyField := keywordField()
	keyField.Store = true
	docMapping.AddFieldMappingsAt(domain.FieldKey, keyField)

	for _, name := range []string{
		domain.FieldFileName, domain.FieldFileNameReversed,
		domain.FieldDirectory, domain.FieldDirectoryReversed,
		domain.FieldAncestor, domain.FieldAncestorReversed,
		domain.FieldModified, domain.FieldSize,
	} {
		docMapping.AddFieldMappingsAt(name, keywordField())
	}

	for name := range domain.NumericFields {
		numeric := bleve.NewNumericFieldMapping()
		numeric.Store = false
		docMapping.AddFieldMappingsAt(name, numeric)
	}

	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = KeywordAnalyzerName
	indexMapping.StoreDynamic = false

	return indexMapping, nil
}

// keywordField keeps term vectors so quoted values like directory:"/docs" match as phrases.
func keywordField() *mapping.FieldMapping {
	f := bleve.NewTextFieldMapping()
	f.Analyzer = KeywordAnalyzerName
	f.Store = false
	return f
}
