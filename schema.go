package authcore

import (
	"fmt"
	"slices"
	"strings"

	"github.com/jonboulle/clockwork"
)

// Logical model names.
const (
	ModelUser         = "user"
	ModelSession      = "session"
	ModelAccount      = "account"
	ModelVerification = "verification"
	ModelRateLimit    = "rateLimit"
)

// FieldType is the declared type of a Field.
type FieldType string

const (
	FieldString      FieldType = "string"
	FieldNumber      FieldType = "number"
	FieldBoolean     FieldType = "boolean"
	FieldDate        FieldType = "date"
	FieldStringArray FieldType = "string[]"
	FieldJSON        FieldType = "json"
)

// Action distinguishes create from update when parsing input.
type Action int

const (
	ActionCreate Action = iota
	ActionUpdate
)

// Reference declares a foreign key.
type Reference struct {
	Model    string
	Field    string
	OnDelete string
}

// Field describes one attribute of a model.
type Field struct {
	Name     string
	Type     FieldType
	Required bool
	Unique   bool
	Index    bool
	// DisableInput stops clients from setting the field.
	DisableInput bool
	// Hidden fields are never returned to clients.
	Hidden bool
	// ColumnName overrides the storage column. Defaults to Name.
	ColumnName   string
	DefaultValue any
	DefaultFunc  func() any
	// OnUpdate supplies a value on every update that does not set the field.
	OnUpdate        func() any
	Validate        func(value any) error
	TransformInput  func(value any) (any, error)
	TransformOutput func(value any) any
	References      *Reference
}

// ModelSchema is the merged definition of one model.
type ModelSchema struct {
	Name      string
	TableName string
	Fields    []*Field
	byName    map[string]*Field
	byColumn  map[string]*Field
}

// Field returns the field definition by logical name.
func (m *ModelSchema) Field(name string) (*Field, bool) {
	f, ok := m.byName[name]
	return f, ok
}

// Column returns the storage column of f.
func (m *ModelSchema) Column(f *Field) string {
	if f.ColumnName != "" {
		return f.ColumnName
	}
	return f.Name
}

// Plugin contributes models and fields to the schema.
type Plugin interface {
	ID() string
	Schema() map[string]PluginModel
}

// PluginModel is a plugin's contribution to one model. Fields of existing
// models are appended, unknown models are created.
type PluginModel struct {
	TableName string
	Fields    []Field
}

// SchemaOptions customises the merged schema.
type SchemaOptions struct {
	// TableNames renames models in storage, keyed by logical model name.
	TableNames map[string]string
	// ColumnNames renames fields in storage: model -> field -> column.
	ColumnNames map[string]map[string]string
	// AdditionalFields extends models with application fields.
	AdditionalFields map[string][]Field
}

// Schema is the merged field schema of every model, built once by New.
type Schema struct {
	models map[string]*ModelSchema
	order  []string
	clock  clockwork.Clock
}

// NewSchema merges the core fields, plugin contributions and application
// fields. Application renames win over plugin table names.
func NewSchema(opts SchemaOptions, plugins []Plugin, clock clockwork.Clock) (*Schema, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &Schema{models: map[string]*ModelSchema{}, clock: clock}
	for _, model := range []string{ModelUser, ModelSession, ModelAccount, ModelVerification, ModelRateLimit} {
		s.addModel(model, model, s.coreFields(model))
	}
	for _, p := range plugins {
		for model, contribution := range p.Schema() {
			if err := s.merge(model, contribution.TableName, contribution.Fields); err != nil {
				return nil, fmt.Errorf("plugin %s: %w", p.ID(), err)
			}
		}
	}
	for model, fields := range opts.AdditionalFields {
		if err := s.merge(model, "", fields); err != nil {
			return nil, err
		}
	}
	for model, table := range opts.TableNames {
		m, ok := s.models[model]
		if !ok {
			return nil, NewConfigurationError(fmt.Sprintf("table name given for unknown model %q", model))
		}
		m.TableName = table
	}
	for model, columns := range opts.ColumnNames {
		m, ok := s.models[model]
		if !ok {
			return nil, NewConfigurationError(fmt.Sprintf("column names given for unknown model %q", model))
		}
		for field, column := range columns {
			f, ok := m.byName[field]
			if !ok {
				return nil, NewConfigurationError(fmt.Sprintf("column name given for unknown field %s.%s", model, field))
			}
			f.ColumnName = column
		}
	}
	for _, m := range s.models {
		m.byColumn = make(map[string]*Field, len(m.Fields))
		for _, f := range m.Fields {
			m.byColumn[m.Column(f)] = f
		}
	}
	return s, nil
}

func (s *Schema) addModel(name, table string, fields []Field) *ModelSchema {
	m := &ModelSchema{Name: name, TableName: table, byName: map[string]*Field{}}
	s.models[name] = m
	s.order = append(s.order, name)
	for i := range fields {
		f := fields[i]
		m.Fields = append(m.Fields, &f)
		m.byName[f.Name] = &f
	}
	return m
}

func (s *Schema) merge(model, table string, fields []Field) error {
	m, ok := s.models[model]
	if !ok {
		m = s.addModel(model, model, []Field{{Name: "id", Type: FieldString, DisableInput: true}})
	}
	if table != "" {
		m.TableName = table
	}
	for i := range fields {
		f := fields[i]
		if f.Name == "" {
			return NewConfigurationError(fmt.Sprintf("field without a name on model %q", model))
		}
		if f.Type == "" {
			f.Type = FieldString
		}
		if existing, ok := m.byName[f.Name]; ok {
			*existing = f
			continue
		}
		m.Fields = append(m.Fields, &f)
		m.byName[f.Name] = &f
	}
	return nil
}

// Model returns the merged schema of a model.
func (s *Schema) Model(name string) (*ModelSchema, bool) {
	m, ok := s.models[name]
	return m, ok
}

// Models lists model names in registration order.
func (s *Schema) Models() []string {
	return slices.Clone(s.order)
}

// TableName returns the storage table of a model.
func (s *Schema) TableName(model string) string {
	if m, ok := s.models[model]; ok {
		return m.TableName
	}
	return model
}

// ColumnName returns the storage column of a field.
func (s *Schema) ColumnName(model, field string) string {
	m, ok := s.models[model]
	if !ok {
		return field
	}
	if f, ok := m.byName[field]; ok {
		return m.Column(f)
	}
	return field
}

// ParseInput validates and normalises data before it is written. Unknown
// fields are dropped, as are DisableInput fields when fromClient is set.
func (s *Schema) ParseInput(model string, data Record, action Action, fromClient bool) (Record, error) {
	m, ok := s.models[model]
	if !ok {
		return nil, NewConfigurationError(fmt.Sprintf("unknown model %q", model))
	}
	out := Record{}
	for _, f := range m.Fields {
		value, present := data[f.Name]
		if present && fromClient && f.DisableInput {
			present = false
		}
		if !present {
			switch {
			case action == ActionCreate && f.DefaultFunc != nil:
				out[f.Name] = f.DefaultFunc()
			case action == ActionCreate && f.DefaultValue != nil:
				out[f.Name] = f.DefaultValue
			case action == ActionUpdate && f.OnUpdate != nil:
				out[f.Name] = f.OnUpdate()
			case action == ActionCreate && f.Required:
				return nil, NewValidationError(CodeMissingField, fmt.Sprintf("%s is required", f.Name), f.Name)
			}
			continue
		}
		if value == nil {
			if f.Required {
				return nil, NewValidationError(CodeMissingField, fmt.Sprintf("%s is required", f.Name), f.Name)
			}
			out[f.Name] = nil
			continue
		}
		if f.TransformInput != nil {
			transformed, err := f.TransformInput(value)
			if err != nil {
				return nil, &Error{Kind: KindValidation, Code: CodeInvalidField, Message: err.Error(), Field: f.Name, Err: err}
			}
			value = transformed
		}
		coerced, err := coerceValue(f.Type, value, true)
		if err != nil {
			return nil, &Error{Kind: KindValidation, Code: CodeInvalidField, Message: fmt.Sprintf("%s: %v", f.Name, err), Field: f.Name}
		}
		if f.Validate != nil {
			if err := f.Validate(coerced); err != nil {
				return nil, &Error{Kind: KindValidation, Code: CodeInvalidField, Message: err.Error(), Field: f.Name, Err: err}
			}
		}
		out[f.Name] = coerced
	}
	return out, nil
}

// ParseOutput shapes a record for clients: only declared fields, hidden
// fields removed, output transforms applied.
func (s *Schema) ParseOutput(model string, rec Record) Record {
	return s.shapeOutput(model, rec, true)
}

// StripHidden drops hidden and undeclared fields without transforming the
// rest. Snapshots kept for later reads use it so that ParseOutput still
// runs exactly once when they are returned.
func (s *Schema) StripHidden(model string, rec Record) Record {
	return s.shapeOutput(model, rec, false)
}

func (s *Schema) shapeOutput(model string, rec Record, transform bool) Record {
	m, ok := s.models[model]
	if !ok || rec == nil {
		return rec
	}
	out := Record{}
	for _, f := range m.Fields {
		if f.Hidden {
			continue
		}
		value, present := rec[f.Name]
		if !present {
			continue
		}
		if transform && f.TransformOutput != nil {
			value = f.TransformOutput(value)
		}
		out[f.Name] = value
	}
	return out
}

// ToStorage renames logical fields to columns.
func (s *Schema) ToStorage(model string, rec Record) Record {
	m, ok := s.models[model]
	if !ok || rec == nil {
		return rec
	}
	out := make(Record, len(rec))
	for k, v := range rec {
		if f, ok := m.byName[k]; ok {
			out[m.Column(f)] = v
			continue
		}
		out[k] = v
	}
	return out
}

// FromStorage renames columns back to logical fields and restores field
// types lost by the backend.
func (s *Schema) FromStorage(model string, rec Record) Record {
	m, ok := s.models[model]
	if !ok || rec == nil {
		return rec
	}
	out := make(Record, len(rec))
	for k, v := range rec {
		f, ok := m.byColumn[k]
		if !ok {
			out[k] = v
			continue
		}
		coerced, _ := coerceValue(f.Type, v, false)
		out[f.Name] = coerced
	}
	return out
}

// WhereToStorage renames the fields of where clauses to columns.
func (s *Schema) WhereToStorage(model string, where []Where) []Where {
	if len(where) == 0 {
		return where
	}
	out := make([]Where, len(where))
	for i, w := range where {
		w.Field = s.ColumnName(model, w.Field)
		if w.Operator == "" {
			w.Operator = OpEq
		}
		if w.Connector == "" {
			w.Connector = And
		}
		out[i] = w
	}
	return out
}

func lowerEmail(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	return strings.ToLower(strings.TrimSpace(s)), nil
}

func (s *Schema) coreFields(model string) []Field {
	now := func() any { return s.clock.Now() }
	timestamps := []Field{
		{Name: "createdAt", Type: FieldDate, Required: true, DisableInput: true, DefaultFunc: now},
		{Name: "updatedAt", Type: FieldDate, Required: true, DisableInput: true, DefaultFunc: now, OnUpdate: now},
	}
	id := Field{Name: "id", Type: FieldString, DisableInput: true}
	switch model {
	case ModelUser:
		return append([]Field{
			id,
			{Name: "name", Type: FieldString, Required: true},
			{Name: "email", Type: FieldString, Required: true, Unique: true, TransformInput: lowerEmail},
			{Name: "emailVerified", Type: FieldBoolean, Required: true, DisableInput: true, DefaultValue: false},
			{Name: "image", Type: FieldString},
		}, timestamps...)
	case ModelSession:
		return append([]Field{
			id,
			{Name: "token", Type: FieldString, Required: true, Unique: true},
			{Name: "userId", Type: FieldString, Required: true, Index: true, References: &Reference{Model: ModelUser, Field: "id", OnDelete: "cascade"}},
			{Name: "expiresAt", Type: FieldDate, Required: true},
			{Name: "ipAddress", Type: FieldString},
			{Name: "userAgent", Type: FieldString},
			{Name: "dontRememberMe", Type: FieldBoolean, Hidden: true},
		}, timestamps...)
	case ModelAccount:
		return append([]Field{
			id,
			{Name: "accountId", Type: FieldString, Required: true},
			{Name: "providerId", Type: FieldString, Required: true},
			{Name: "userId", Type: FieldString, Required: true, Index: true, References: &Reference{Model: ModelUser, Field: "id", OnDelete: "cascade"}},
			{Name: "accessToken", Type: FieldString, Hidden: true},
			{Name: "refreshToken", Type: FieldString, Hidden: true},
			{Name: "idToken", Type: FieldString, Hidden: true},
			{Name: "accessTokenExpiresAt", Type: FieldDate, Hidden: true},
			{Name: "refreshTokenExpiresAt", Type: FieldDate, Hidden: true},
			{Name: "scope", Type: FieldString},
			{Name: "password", Type: FieldString, Hidden: true},
		}, timestamps...)
	case ModelVerification:
		return append([]Field{
			id,
			{Name: "identifier", Type: FieldString, Required: true, Index: true},
			{Name: "value", Type: FieldString, Required: true},
			{Name: "expiresAt", Type: FieldDate, Required: true},
		}, timestamps...)
	case ModelRateLimit:
		return []Field{
			id,
			{Name: "key", Type: FieldString, Required: true, Unique: true},
			{Name: "count", Type: FieldNumber, Required: true},
			{Name: "lastRequest", Type: FieldNumber, Required: true},
		}
	}
	return nil
}
