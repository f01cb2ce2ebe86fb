package plugin

// ManifestSchema is the JSON Schema for zammy-plugin.json structure checks.
// Semantic rules (name grammar, entry point containment) live in ManifestLoader.
const ManifestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["name", "version", "main", "commands"],
  "properties": {
    "name": {
      "type": "string",
      "minLength": 1,
      "description": "Unique plugin name, optionally scoped (@scope/name)"
    },
    "version": {
      "type": "string",
      "minLength": 1
    },
    "main": {
      "type": "string",
      "minLength": 1,
      "description": "Entry point, relative to the plugin directory"
    },
    "commands": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "string",
        "minLength": 1,
        "pattern": "^\\S+$"
      }
    },
    "zammy": {
      "type": "object",
      "properties": {
        "minVersion": { "type": "string" },
        "maxVersion": { "type": "string" }
      }
    },
    "permissions": {
      "type": "object",
      "properties": {
        "shell": { "type": "boolean" },
        "filesystem": { "$ref": "#/definitions/scope" },
        "network": { "$ref": "#/definitions/scope" }
      }
    },
    "displayName": { "type": "string" },
    "description": { "type": "string" }
  },
  "definitions": {
    "scope": {
      "oneOf": [
        { "type": "boolean" },
        { "type": "array", "items": { "type": "string" } }
      ]
    }
  }
}`
