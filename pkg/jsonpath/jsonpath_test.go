package jsonpath

import (
	"errors"
	"testing"
)

const doc = `{
	"name": "John Doe",
	"age": 30,
	"address": {"city": "Anytown", "zip.code": "12345"},
	"phones": [
		{"type": "home", "number": "555-1234"},
		{"type": "work", "number": "555-5678"}
	],
	"active": true,
	"scores": [10, 20, 30],
	"metadata": null
}`

func TestToGJSON(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"$", "@this"},
		{"$.name", "name"},
		{"$.address.city", "address.city"},
		{"$.phones[1].number", "phones.1.number"},
		{"$['address']['city']", "address.city"},
		{`$["address"]["zip.code"]`, `address.zip\.code`},
		{"$[0]", "0"},
		{"$.scores.#", "scores.#"},
		{"token", "token"},
		{"data.items.#.id", "data.items.#.id"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := ToGJSON(tt.path); got != tt.want {
				t.Errorf("ToGJSON(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected string
		wantErr  bool
	}{
		{"simple property", "$.name", "John Doe", false},
		{"numeric property", "$.age", "30", false},
		{"boolean property", "$.active", "true", false},
		{"nested property", "$.address.city", "Anytown", false},
		{"quoted key with dot", `$.address["zip.code"]`, "12345", false},
		{"array element", "$.phones[1].number", "555-5678", false},
		{"array value", "$.scores[2]", "30", false},
		{"array as JSON", "$.scores", "[10, 20, 30]", false},
		{"null value", "$.metadata", "null", false},
		{"gjson path", "phones.0.type", "home", false},
		{"missing property", "$.missing", "", true},
		{"out of range", "$.scores[5]", "", true},
		{"empty path", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractString(doc, tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Extract() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.expected {
				t.Errorf("Extract() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestExtract_Errors(t *testing.T) {
	if _, err := Extract(nil, "$.a"); !errors.Is(err, ErrEmptyDocument) {
		t.Errorf("Extract(nil) error = %v, want ErrEmptyDocument", err)
	}
	if _, err := ExtractString(doc, " "); !errors.Is(err, ErrEmptyPath) {
		t.Errorf("Extract(blank path) error = %v, want ErrEmptyPath", err)
	}

	_, err := ExtractString(doc, "$.nope")
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Path != "$.nope" {
		t.Errorf("Extract() error = %v, want *NotFoundError for $.nope", err)
	}
}

func TestExtractMultiple(t *testing.T) {
	results, err := ExtractMultiple([]byte(doc), map[string]string{
		"name": "$.name",
		"city": "$.address.city",
	})
	if err != nil {
		t.Fatalf("ExtractMultiple() error = %v", err)
	}
	if results["name"] != "John Doe" || results["city"] != "Anytown" {
		t.Errorf("ExtractMultiple() = %v", results)
	}

	results, err = ExtractMultiple([]byte(doc), map[string]string{
		"name":    "$.name",
		"missing": "$.missing",
	})
	if err == nil {
		t.Error("ExtractMultiple() error = nil, want partial failure")
	}
	if results["name"] != "John Doe" {
		t.Errorf("partial results = %v, want name kept", results)
	}
}
