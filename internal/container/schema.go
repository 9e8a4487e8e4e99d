package container

import "github.com/santhosh-tekuri/jsonschema/v5"

const payloadSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["format", "version", "entries"],
  "properties": {
    "format": {"const": "nsmgr.puppets"},
    "version": {"type": "integer", "minimum": 1, "maximum": 2},
    "entries": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "password"],
        "properties": {
          "name": {"type": "string"},
          "password": {"type": "string"}
        },
        "additionalProperties": false
      }
    }
  },
  "if": {"properties": {"version": {"const": 2}}},
  "then": {
    "properties": {
      "entries": {
        "items": {
          "properties": {
            "name": {"pattern": "^[A-Za-z0-9+/]*={0,2}$"},
            "password": {"pattern": "^[A-Za-z0-9+/]*={0,2}$"}
          }
        }
      }
    }
  }
}`

var payloadSchema = jsonschema.MustCompileString("nsmgr-puppets.schema.json", payloadSchemaJSON)
