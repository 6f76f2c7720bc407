package schema

import "github.com/getkin/kin-openapi/openapi3"

const (
	maxLocaleLength      = 16
	maxTranslationLength = 4096
)

func objectSchema(fields []Field) *openapi3.Schema {
	s := openapi3.NewObjectSchema()
	var required []string
	for _, f := range fields {
		s.WithProperty(f.Name, fieldSchema(f))
		if f.Required {
			required = append(required, f.Name)
		}
	}
	s.Required = required
	return s
}

func fieldSchema(f Field) *openapi3.Schema {
	var s *openapi3.Schema
	switch f.Kind {
	case KindString, KindTimestamp:
		s = openapi3.NewStringSchema()
		if f.MinLength > 0 {
			s.WithMinLength(f.MinLength)
		}
		if f.MaxLength > 0 {
			s.WithMaxLength(f.MaxLength)
		}
	case KindInteger:
		s = openapi3.NewIntegerSchema()
		if f.Min != nil {
			s.WithMin(*f.Min)
		}
		if f.Max != nil {
			s.WithMax(*f.Max)
		}
	case KindBoolean:
		s = openapi3.NewBoolSchema()
	case KindStringList:
		s = openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema())
	case KindObject:
		s = objectSchema(f.Fields)
	case KindObjectList:
		s = openapi3.NewArraySchema().WithItems(objectSchema(f.Fields))
	case KindTranslations:
		s = openapi3.NewArraySchema().WithItems(translationSchema(f.MaxLength))
	default:
		s = &openapi3.Schema{Nullable: true}
	}
	if f.Kind == KindStringList || f.Kind == KindObjectList || f.Kind == KindTranslations {
		if f.MinItems > 0 {
			s.WithMinItems(f.MinItems)
		}
		if f.MaxItems > 0 {
			s.WithMaxItems(f.MaxItems)
		}
	}
	if len(f.Enum) > 0 {
		s.WithEnum(f.Enum...)
	}
	if f.Nullable {
		s.Nullable = true
	}
	s.Description = f.Description
	return s
}

func translationSchema(maxLength int64) *openapi3.Schema {
	if maxLength <= 0 {
		maxLength = maxTranslationLength
	}
	return objectSchema([]Field{
		{Name: "locale", Kind: KindString, Required: true, MinLength: 1, MaxLength: maxLocaleLength},
		{Name: "translation", Kind: KindString, Required: true, MinLength: 1, MaxLength: maxLength},
	})
}
