//go:build !wasm
// +build !wasm

package gorm

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"gorm.io/gorm"

	ac "github.com/panyam/authcore"
)

var (
	stringPtr = reflect.TypeOf((*string)(nil))
	floatPtr  = reflect.TypeOf((*float64)(nil))
	boolPtr   = reflect.TypeOf((*bool)(nil))
	timePtr   = reflect.TypeOf((*time.Time)(nil))
)

// Migrate creates or alters the tables of every model in schema. Models are
// described to GORM with struct types built from the schema so that renamed
// columns and additional fields are migrated like core ones.
func Migrate(db *gorm.DB, schema *ac.Schema) error {
	for _, name := range schema.Models() {
		m, _ := schema.Model(name)
		model := reflect.New(modelType(m)).Interface()
		if err := db.Table(m.TableName).AutoMigrate(model); err != nil {
			return fmt.Errorf("migrate %s: %w", m.TableName, err)
		}
	}
	return nil
}

// modelType builds the struct GORM migrates for m. Every column is nullable
// except the primary key; arrays and JSON are stored as text.
func modelType(m *ac.ModelSchema) reflect.Type {
	fields := make([]reflect.StructField, 0, len(m.Fields))
	for i, f := range m.Fields {
		column := m.Column(f)
		tags := []string{"column:" + column}
		typ := stringPtr
		switch f.Type {
		case ac.FieldNumber:
			typ = floatPtr
		case ac.FieldBoolean:
			typ = boolPtr
		case ac.FieldDate:
			typ = timePtr
		}
		switch {
		case f.Name == "id":
			typ = reflect.TypeOf("")
			tags = append(tags, "primaryKey", "size:64")
		case f.Unique:
			tags = append(tags, "uniqueIndex:"+indexName("uidx", m.TableName, column))
		case f.Index || f.References != nil:
			tags = append(tags, "index:"+indexName("idx", m.TableName, column))
		}
		if (f.Unique || f.Index || f.References != nil) && typ == stringPtr {
			tags = append(tags, "size:255")
		}
		fields = append(fields, reflect.StructField{
			Name: fmt.Sprintf("F%d", i),
			Type: typ,
			Tag:  reflect.StructTag(fmt.Sprintf(`gorm:"%s"`, strings.Join(tags, ";"))),
		})
	}
	return reflect.StructOf(fields)
}

func indexName(prefix, table, column string) string {
	return strings.ToLower(prefix + "_" + table + "_" + column)
}
