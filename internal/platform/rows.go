package platform

import (
	"encoding/json"
	"fmt"

	"github.com/canonica-labs/rlsdemo/pkg/models"
)

// NullText is how a null column value is rendered.
const NullText = "null"

// Text returns the value of column as text. Numbers keep their JSON form and
// null becomes NullText. ok is false only when the column is absent.
func (r Row) Text(column string) (value string, ok bool) {
	v, present := r[column]
	if !present {
		return "", false
	}
	switch t := v.(type) {
	case nil:
		return NullText, true
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	default:
		return fmt.Sprint(t), true
	}
}

func (r Row) require(index int, columns ...string) ([]string, error) {
	values := make([]string, len(columns))
	for i, col := range columns {
		v, ok := r.Text(col)
		if !ok {
			return nil, fmt.Errorf("row %d: missing column %q", index, col)
		}
		values[i] = v
	}
	return values, nil
}

// DecodeDocuments converts rows of the documents table. Every row must carry
// name and company_id, though either may be null.
func DecodeDocuments(rows []Row) ([]models.Document, error) {
	docs := make([]models.Document, 0, len(rows))
	for i, row := range rows {
		v, err := row.require(i, "name", "company_id")
		if err != nil {
			return nil, err
		}
		docs = append(docs, models.Document{Name: v[0], CompanyID: v[1]})
	}
	return docs, nil
}

// DecodeSections converts rows of the document_sections table. Every row must
// carry id and document_id.
func DecodeSections(rows []Row) ([]models.DocumentSection, error) {
	sections := make([]models.DocumentSection, 0, len(rows))
	for i, row := range rows {
		v, err := row.require(i, "id", "document_id")
		if err != nil {
			return nil, err
		}
		sections = append(sections, models.DocumentSection{ID: v[0], DocumentID: v[1]})
	}
	return sections, nil
}
