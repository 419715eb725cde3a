package openapi

import (
	"github.com/getkin/kin-openapi/openapi3"
)

// Version of the HTTP API described by Generate.
const Version = "1.0.0"

// Generate builds the OpenAPI 3.1 document for the key management and
// token endpoints. apiKeyHeader is the header name accepted as an
// alternative to Authorization.
func Generate(baseURL, apiKeyHeader string) *openapi3.T {
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "Keymint API",
			Description: "API key issuance, validation, and api_key token exchange.",
			Version:     Version,
		},
	}
	if baseURL != "" {
		doc.Servers = openapi3.Servers{{URL: baseURL}}
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	doc.Components.SecuritySchemes["apiKey"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:        "apiKey",
			In:          "header",
			Name:        apiKeyHeader,
			Description: "Raw API key of the form ak_<id>.<secret>. Also accepted in the Authorization header.",
		},
	}
	doc.Components.SecuritySchemes["bearerAuth"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
		},
	}
	doc.Security = openapi3.SecurityRequirements{
		{"apiKey": {}},
		{"bearerAuth": {}},
	}

	addSchemas(doc.Components.Schemas)

	doc.Paths = openapi3.NewPaths()
	addKeyPaths(doc)
	addTokenPath(doc)
	addHealthPaths(doc)

	return doc
}

func addSchemas(s openapi3.Schemas) {
	str := func(desc string) *openapi3.SchemaRef {
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Description: desc}}
	}
	ts := func(desc string) *openapi3.SchemaRef {
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "date-time", Description: desc}}
	}
	strList := func(desc string) *openapi3.SchemaRef {
		return &openapi3.SchemaRef{Value: &openapi3.Schema{
			Type:        &openapi3.Types{"array"},
			Items:       str(""),
			Description: desc,
		}}
	}
	object := func(required []string, props openapi3.Schemas) *openapi3.SchemaRef {
		return &openapi3.SchemaRef{Value: &openapi3.Schema{
			Type:       &openapi3.Types{"object"},
			Required:   required,
			Properties: props,
		}}
	}

	s["ErrorResponse"] = object([]string{"error"}, openapi3.Schemas{
		"error": object([]string{"code", "message"}, openapi3.Schemas{
			"code":    &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}},
			"message": str(""),
			"context": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}},
		}),
	})

	s["OAuthError"] = object([]string{"error"}, openapi3.Schemas{
		"error": &openapi3.SchemaRef{Value: &openapi3.Schema{
			Type: &openapi3.Types{"string"},
			Enum: []interface{}{"invalid_request", "invalid_grant", "invalid_scope", "unsupported_grant_type", "temporarily_unavailable", "server_error"},
		}},
		"error_description": str(""),
	})

	s["CreateKeyRequest"] = object(nil, openapi3.Schemas{
		"name": str("Display name."),
		"scopes": &openapi3.SchemaRef{Value: &openapi3.Schema{
			OneOf: openapi3.SchemaRefs{
				strList(""),
				str("Comma or space separated scopes."),
			},
			Description: "Scopes for the key. Defaults to the configured default scopes.",
		}},
		"ttl_minutes": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Description: "Lifetime in minutes."}},
		"ttl":         str("Lifetime as a Go duration such as 720h. Mutually exclusive with ttl_minutes."),
		"metadata":    &openapi3.SchemaRef{Value: &openapi3.Schema{Description: "Opaque string or JSON value stored with the key."}},
	})

	s["CreatedKey"] = object([]string{"api_key", "id", "tenant", "scopes", "created_at"}, openapi3.Schemas{
		"api_key":    str("The plaintext key. It is shown only in this response."),
		"id":         str("Public id of the key."),
		"tenant":     str(""),
		"name":       str(""),
		"scopes":     strList(""),
		"expires_at": ts(""),
		"created_at": ts(""),
	})

	s["KeySummary"] = object([]string{"id", "tenant", "scopes", "created_at"}, openapi3.Schemas{
		"id":           str("Public id of the key."),
		"name":         str(""),
		"tenant":       str(""),
		"scopes":       strList(""),
		"created_at":   ts(""),
		"expires_at":   ts(""),
		"last_used_at": ts(""),
	})

	s["KeyList"] = object([]string{"resource", "meta"}, openapi3.Schemas{
		"resource": &openapi3.SchemaRef{Value: &openapi3.Schema{
			Type:  &openapi3.Types{"array"},
			Items: openapi3.NewSchemaRef("#/components/schemas/KeySummary", nil),
		}},
		"meta": object([]string{"count"}, openapi3.Schemas{
			"count": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}}},
		}),
	})

	s["TokenResponse"] = object([]string{"access_token", "token_type", "expires_in"}, openapi3.Schemas{
		"access_token": str("HS256 signed JWT."),
		"token_type":   &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Enum: []interface{}{"Bearer"}}},
		"expires_in":   &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Description: "Lifetime in seconds."}},
		"scope":        str("Space separated granted scopes."),
	})

	s["Principal"] = object([]string{"subject", "tenant", "owner", "scopes", "scheme"}, openapi3.Schemas{
		"subject":    str(""),
		"tenant":     str(""),
		"owner":      str(""),
		"scopes":     strList(""),
		"issued_via": str("api_key when the credential traces back to an API key."),
		"scheme": &openapi3.SchemaRef{Value: &openapi3.Schema{
			Type: &openapi3.Types{"string"},
			Enum: []interface{}{"api_key", "bearer"},
		}},
		"api_key_id": str(""),
	})

	s["Status"] = object([]string{"status"}, openapi3.Schemas{
		"status": str(""),
		"checks": &openapi3.SchemaRef{Value: &openapi3.Schema{
			Type:                 &openapi3.Types{"object"},
			AdditionalProperties: openapi3.AdditionalProperties{Schema: str("")},
		}},
	})
}

func addKeyPaths(doc *openapi3.T) {
	tag := "keys"

	doc.Paths.Set("/api/v1/keys", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{tag},
			Summary:     "List the caller's active keys, newest first",
			OperationID: "listKeys",
			Responses:   newResponses("200", "Key list", ref("KeyList"), "401", "403", "503"),
		},
		Post: &openapi3.Operation{
			Tags:        []string{tag},
			Summary:     "Create an API key for the calling principal",
			OperationID: "createKey",
			RequestBody: &openapi3.RequestBodyRef{
				Value: &openapi3.RequestBody{
					Content: openapi3.NewContentWithJSONSchemaRef(ref("CreateKeyRequest")),
				},
			},
			Responses: newResponses("201", "Key created", ref("CreatedKey"), "400", "401", "403", "503"),
		},
	})

	publicID := &openapi3.ParameterRef{Value: openapi3.NewPathParameter("publicId").
		WithSchema(openapi3.NewStringSchema()).
		WithDescription("Public id of the key.")}

	noContent := "Key revoked"
	del := &openapi3.Operation{
		Tags:        []string{tag},
		Summary:     "Revoke one of the caller's keys",
		OperationID: "revokeKey",
		Parameters:  openapi3.Parameters{publicID},
		Responses:   newResponses("", "", nil, "401", "403", "404", "503"),
	}
	del.Responses.Set("204", &openapi3.ResponseRef{Value: &openapi3.Response{Description: &noContent}})
	doc.Paths.Set("/api/v1/keys/{publicId}", &openapi3.PathItem{Delete: del})

	doc.Paths.Set("/api/v1/me", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"identity"},
			Summary:     "Describe the authenticated principal",
			OperationID: "me",
			Responses:   newResponses("200", "Principal", ref("Principal"), "401", "503"),
		},
	})
}

func addTokenPath(doc *openapi3.T) {
	form := openapi3.NewObjectSchema().
		WithProperty("grant_type", openapi3.NewStringSchema().WithEnum("api_key")).
		WithProperty("api_key", openapi3.NewStringSchema()).
		WithProperty("scope", openapi3.NewStringSchema())
	form.Required = []string{"grant_type", "api_key"}

	okDesc := "Access token"
	badDesc := "OAuth error"
	responses := openapi3.NewResponses()
	responses.Set("200", &openapi3.ResponseRef{Value: &openapi3.Response{
		Description: &okDesc,
		Content:     openapi3.NewContentWithJSONSchemaRef(ref("TokenResponse")),
	}})
	for _, code := range []string{"400", "503"} {
		responses.Set(code, &openapi3.ResponseRef{Value: &openapi3.Response{
			Description: &badDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(ref("OAuthError")),
		}})
	}

	doc.Paths.Set("/connect/token", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"token"},
			Summary:     "Exchange an API key for a bearer token",
			OperationID: "exchangeToken",
			Security:    &openapi3.SecurityRequirements{},
			RequestBody: &openapi3.RequestBodyRef{
				Value: &openapi3.RequestBody{
					Required: true,
					Content:  openapi3.NewContentWithFormDataSchema(form),
				},
			},
			Responses: responses,
		},
	})
}

func addHealthPaths(doc *openapi3.T) {
	for path, summary := range map[string]string{
		"/healthz": "Liveness check",
		"/readyz":  "Readiness check; pings the key store",
	} {
		desc := "Status"
		unavailable := "Not ready"
		responses := openapi3.NewResponses()
		responses.Set("200", &openapi3.ResponseRef{Value: &openapi3.Response{
			Description: &desc,
			Content:     openapi3.NewContentWithJSONSchemaRef(ref("Status")),
		}})
		if path == "/readyz" {
			responses.Set("503", &openapi3.ResponseRef{Value: &openapi3.Response{
				Description: &unavailable,
				Content:     openapi3.NewContentWithJSONSchemaRef(ref("Status")),
			}})
		}
		doc.Paths.Set(path, &openapi3.PathItem{
			Get: &openapi3.Operation{
				Tags:      []string{"system"},
				Summary:   summary,
				Security:  &openapi3.SecurityRequirements{},
				Responses: responses,
			},
		})
	}
}

func ref(name string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("#/components/schemas/"+name, nil)
}

var errorDescriptions = map[string]string{
	"400": "Bad request",
	"401": "Unauthorized",
	"403": "Forbidden",
	"404": "Not found",
	"503": "Key store unavailable",
}

// newResponses builds a response set with one success entry (skipped when
// statusCode is empty) and the listed error codes.
func newResponses(statusCode, description string, schema *openapi3.SchemaRef, errorCodes ...string) *openapi3.Responses {
	responses := openapi3.NewResponses()

	if statusCode != "" {
		successDesc := description
		responses.Set(statusCode, &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &successDesc,
				Content:     openapi3.NewContentWithJSONSchemaRef(schema),
			},
		})
	}

	errorRef := ref("ErrorResponse")
	for _, code := range errorCodes {
		desc := errorDescriptions[code]
		responses.Set(code, &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &desc,
				Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
			},
		})
	}

	serverErrDesc := "Internal server error"
	responses.Set("500", &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &serverErrDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
		},
	})

	return responses
}
