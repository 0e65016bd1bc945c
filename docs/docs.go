package docs

import "github.com/swaggo/swag"

const docTemplate = `{
  "swagger": "2.0",
  "info": {
    "title": "Intake Backend",
    "description": "Inbound chat webhook that answers with an AI assistant able to capture leads and book campus visits",
    "version": "1.0"
  },
  "basePath": "/",
  "securityDefinitions": {
    "AdminKey": {"type": "apiKey", "in": "header", "name": "X-Admin-Key"},
    "WebhookSecret": {"type": "apiKey", "in": "header", "name": "X-Webhook-Secret"}
  },
  "paths": {
    "/healthz": {
      "get": {
        "tags": ["health"],
        "summary": "Health check",
        "produces": ["application/json"],
        "responses": {
          "200": {"description": "OK"},
          "503": {"description": "Database unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
        }
      }
    },
    "/process": {
      "post": {
        "tags": ["webhook"],
        "summary": "Process an inbound chat message",
        "security": [{"WebhookSecret": []}],
        "consumes": ["application/json"],
        "produces": ["application/json"],
        "parameters": [
          {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.ProcessRequest"}}
        ],
        "responses": {
          "200": {"description": "Processed", "schema": {"$ref": "#/definitions/pipeline.Result"}},
          "400": {"description": "Invalid body", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
          "404": {"description": "Chat or organization not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
          "500": {"description": "Configuration or internal error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
          "502": {"description": "Reply delivery failed", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
        }
      }
    },
    "/api/slots": {
      "get": {
        "tags": ["admin"],
        "summary": "List bookable slots",
        "security": [{"AdminKey": []}],
        "produces": ["application/json"],
        "parameters": [
          {"in": "query", "name": "organization_id", "type": "string", "required": true},
          {"in": "query", "name": "start_date", "type": "string", "required": true},
          {"in": "query", "name": "end_date", "type": "string", "required": true}
        ],
        "responses": {
          "200": {"description": "OK"},
          "400": {"description": "Invalid date range", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
          "404": {"description": "Organization not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
        }
      }
    },
    "/api/appointments/{id}/cancel": {
      "post": {
        "tags": ["admin"],
        "summary": "Cancel an appointment",
        "security": [{"AdminKey": []}],
        "produces": ["application/json"],
        "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
        "responses": {
          "200": {"description": "OK"},
          "404": {"description": "Appointment not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
          "409": {"description": "Appointment in progress or completed", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
        }
      }
    },
    "/api/appointments/{id}/reschedule": {
      "post": {
        "tags": ["admin"],
        "summary": "Move an appointment to another slot",
        "security": [{"AdminKey": []}],
        "consumes": ["application/json"],
        "produces": ["application/json"],
        "parameters": [
          {"in": "path", "name": "id", "type": "string", "required": true},
          {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.RescheduleRequest"}}
        ],
        "responses": {
          "200": {"description": "OK"},
          "400": {"description": "Invalid body", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
          "404": {"description": "Appointment not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
          "409": {"description": "Slot unavailable, or appointment cancelled or no longer scheduled", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
        }
      }
    },
    "/api/chats/{id}/conclude": {
      "post": {
        "tags": ["admin"],
        "summary": "Conclude a chat",
        "security": [{"AdminKey": []}],
        "produces": ["application/json"],
        "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
        "responses": {
          "200": {"description": "OK"},
          "404": {"description": "Chat not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
        }
      }
    }
  },
  "definitions": {
    "handlers.ErrorResponse": {
      "type": "object",
      "properties": {
        "error": {
          "type": "object",
          "properties": {
            "code": {"type": "string"},
            "message": {"type": "string"},
            "details": {}
          }
        }
      }
    },
    "handlers.ProcessRequest": {
      "type": "object",
      "required": ["chat_id"],
      "properties": {
        "chat_id": {"type": "string"},
        "message": {"type": "string"},
        "final_message": {"type": "string"},
        "text": {"type": "string"},
        "message_id": {"type": "string"}
      }
    },
    "handlers.RescheduleRequest": {
      "type": "object",
      "required": ["slot_id"],
      "properties": {
        "slot_id": {"type": "string"},
        "notes": {"type": "string"}
      }
    },
    "pipeline.Result": {
      "type": "object",
      "properties": {
        "status": {"type": "string", "enum": ["sent", "duplicate", "handoff_active", "ai_disabled", "empty_reply"]},
        "chat_id": {"type": "string"},
        "session_id": {"type": "string"},
        "message_id": {"type": "string"},
        "tool_calls": {"type": "integer"},
        "handoff": {"type": "boolean"},
        "redelivered": {"type": "boolean"}
      }
    }
  }
}`

func init() {
	swag.Register(swag.Name, &s{})
}

type s struct{}

func (s *s) ReadDoc() string {
	return docTemplate
}
