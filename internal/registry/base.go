package registry

import "github.com/mesh-intelligence/folio/internal/schema"

// Resource and content field names shared by every type.
const (
	FieldResourceType = "resourceType"
	FieldConfig       = "config"
	FieldWritable     = "writable"
)

// BaseResource is the canonical definition every resource type extends.
var BaseResource = schema.Definition{
	Name: "resource",
	Fields: []schema.Field{
		{Name: FieldResourceType, Kind: schema.KindString, Required: true, Discriminant: true},
		{Name: "textId", Kind: schema.KindString, Required: true, Immutable: true, MinLength: 1},
		{Name: "level", Kind: schema.KindInteger, Required: true, Immutable: true, Min: schema.Float(0)},
		{Name: "title", Kind: schema.KindTranslations, Required: true, MinItems: 1, MaxItems: 16, MaxLength: 64},
		{Name: "description", Kind: schema.KindTranslations, MaxItems: 16, MaxLength: 512},
		{Name: "ownerId", Kind: schema.KindString, Nullable: true, ServerManaged: true, Immutable: true},
		{Name: "sharedRead", Kind: schema.KindStringList, ServerManaged: true, MaxItems: 64},
		{Name: "sharedWrite", Kind: schema.KindStringList, ServerManaged: true, MaxItems: 64},
		{Name: "proposed", Kind: schema.KindBoolean, ServerManaged: true, Immutable: true},
		{Name: "public", Kind: schema.KindBoolean, ServerManaged: true, Immutable: true},
		{Name: "originalId", Kind: schema.KindString, Nullable: true, ServerManaged: true, Immutable: true},
		{Name: FieldConfig, Kind: schema.KindObject},
		{Name: "contentsChangedAt", Kind: schema.KindTimestamp, ServerManaged: true, Immutable: true},
	},
	ReadExtensions: []schema.Field{
		{Name: FieldWritable, Kind: schema.KindBoolean, Required: true},
		{Name: "owner", Kind: schema.KindObject, Nullable: true, Fields: principalFields},
		{Name: "sharedReadUsers", Kind: schema.KindObjectList, Fields: principalFields},
		{Name: "sharedWriteUsers", Kind: schema.KindObjectList, Fields: principalFields},
	},
}

var principalFields = []schema.Field{
	{Name: "id", Kind: schema.KindString, Required: true},
	{Name: "username", Kind: schema.KindString, Required: true},
}

// commonConfigFields are accepted in the config of every resource type.
var commonConfigFields = []schema.Field{
	{Name: "category", Kind: schema.KindString, Nullable: true, MaxLength: 32},
	{Name: "sortOrder", Kind: schema.KindInteger, Min: schema.Float(0), Max: schema.Float(1000)},
	{Name: "defaultActive", Kind: schema.KindBoolean},
}

// BaseContent is the canonical definition every content type extends.
var BaseContent = schema.Definition{
	Name: "content",
	Fields: []schema.Field{
		{Name: "resourceId", Kind: schema.KindString, Required: true, MinLength: 1},
		{Name: FieldResourceType, Kind: schema.KindString, Required: true, Discriminant: true},
		{Name: "locationId", Kind: schema.KindString, Required: true, MinLength: 1},
		{Name: "comment", Kind: schema.KindString, Nullable: true, MaxLength: 50000},
		{Name: "notes", Kind: schema.KindString, Nullable: true, MaxLength: 1000},
	},
}

func resourceDefinition(rt ResourceType) schema.Definition {
	config := append(append([]schema.Field(nil), commonConfigFields...), rt.ConfigFields()...)
	return schema.Definition{
		Name: rt.Key() + "Resource",
		Base: &BaseResource,
		Fields: []schema.Field{
			{Name: FieldResourceType, Kind: schema.KindString, Required: true, Discriminant: true, Enum: []any{rt.Key()}},
			{Name: FieldConfig, Kind: schema.KindObject, Fields: config},
		},
	}
}

func contentDefinition(rt ResourceType) schema.Definition {
	fields := []schema.Field{
		{Name: FieldResourceType, Kind: schema.KindString, Required: true, Discriminant: true, Enum: []any{rt.Key()}},
	}
	return schema.Definition{
		Name:   rt.Key() + "Content",
		Base:   &BaseContent,
		Fields: append(fields, rt.ContentFields()...),
	}
}
