// Package docs registers the bridge's OpenAPI document with swag so that
// gin-swagger can serve it at /swagger/*any. The template mirrors the swag
// annotations on the HTTP handlers; regenerate with `swag init -g
// cmd/posbridge/main.go -o docs` after changing them.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/events/missing": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["events"],
                "summary": "Replay missed events",
                "parameters": [
                    {"type": "string", "description": "Channel name", "name": "channel", "in": "query", "required": true},
                    {"type": "string", "description": "RFC 3339 lower bound", "name": "since", "in": "query", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ReplayResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/orders": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["orders"],
                "summary": "Create an order",
                "parameters": [
                    {"type": "string", "description": "Retry-safe creation key", "name": "Idempotency-Key", "in": "header"},
                    {"description": "Order", "name": "body", "in": "body", "required": true, "schema": {"type": "object"}}
                ],
                "responses": {
                    "200": {"description": "Idempotent replay", "schema": {"$ref": "#/definitions/handlers.OrderResponse"}},
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/handlers.OrderResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "503": {"description": "No open session", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/orders/printed": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["print"],
                "summary": "Mark several orders printed (legacy)",
                "responses": {"200": {"description": "OK", "schema": {"type": "object"}}}
            }
        },
        "/orders/{id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["orders"],
                "summary": "Read an order",
                "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.OrderResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/orders/{id}/refill": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["orders"],
                "summary": "Add a refill round",
                "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.OrderResponse"}}}
            }
        },
        "/orders/{id}/status": {
            "patch": {
                "security": [{"BearerAuth": []}],
                "tags": ["orders"],
                "summary": "Change an order's status",
                "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.OrderResponse"}},
                    "409": {"description": "Invalid transition", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/orders/{id}/items/{itemId}/status": {
            "patch": {
                "security": [{"BearerAuth": []}],
                "tags": ["orders"],
                "summary": "Change an order item's status",
                "parameters": [
                    {"type": "integer", "name": "id", "in": "path", "required": true},
                    {"type": "integer", "name": "itemId", "in": "path", "required": true}
                ],
                "responses": {"200": {"description": "OK", "schema": {"type": "object"}}}
            }
        },
        "/orders/{id}/printed": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["print"],
                "summary": "Mark one order printed (legacy)",
                "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.SuccessResponse"}}}
            }
        },
        "/print/events": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["print"],
                "summary": "Fetch unacknowledged print jobs",
                "parameters": [{"type": "integer", "default": 100, "maximum": 500, "minimum": 1, "name": "limit", "in": "query"}],
                "responses": {"200": {"description": "OK", "schema": {"type": "object"}}}
            }
        },
        "/print/events/{id}/ack": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["print"],
                "summary": "Acknowledge a print job",
                "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"type": "object"}}}
            }
        },
        "/print/events/{id}/fail": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["print"],
                "summary": "Report a failed print attempt",
                "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "409": {"description": "Job exhausted", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/print/heartbeat": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["print"],
                "summary": "Report device liveness",
                "responses": {"204": {"description": "No Content"}}
            }
        },
        "/admin/devices": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["admin"],
                "summary": "Register a device",
                "responses": {"201": {"description": "Created", "schema": {"type": "object"}}}
            }
        },
        "/admin/devices/{id}/control": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["admin"],
                "summary": "Send a control command to a device",
                "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}],
                "responses": {"202": {"description": "Accepted", "schema": {"$ref": "#/definitions/handlers.SuccessResponse"}}}
            }
        },
        "/admin/sessions/{id}/reset": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["admin"],
                "summary": "Reset a session",
                "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}],
                "responses": {"202": {"description": "Accepted", "schema": {"type": "object"}}}
            }
        },
        "/ws": {
            "get": {
                "tags": ["events"],
                "summary": "Live event stream",
                "parameters": [{"type": "string", "description": "Bearer token", "name": "token", "in": "query", "required": true}],
                "responses": {"101": {"description": "Switching Protocols"}}
            }
        }
    },
    "definitions": {
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean", "example": false},
                "request_id": {"type": "string"},
                "code": {"type": "string", "example": "not_found"},
                "message": {"type": "string"}
            }
        },
        "handlers.SuccessResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean", "example": true},
                "message": {"type": "string"}
            }
        },
        "handlers.OrderResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean", "example": true},
                "replayed": {"type": "boolean"},
                "order": {"type": "object"}
            }
        },
        "handlers.ReplayResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean", "example": true},
                "channel": {"type": "string", "example": "device.12"},
                "since": {"type": "string"},
                "count": {"type": "integer"},
                "events": {"type": "array", "items": {"type": "object"}}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "POS Device Bridge API",
	Description:      "Order intake, kitchen status, print delivery and event replay for POS devices.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
