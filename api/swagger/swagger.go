package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Music School Manager API",
        "description": "Term continuation workflow for multi-tenant music schools",
        "version": "0.1.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Authentication", "description": "Login, token refresh and logout"},
        {"name": "Continuation", "description": "Staff-facing continuation run workflow"},
        {"name": "Responses", "description": "Participant response intake"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"},
                    "503": {"description": "Degraded"}
                }
            }
        },
        "/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate user by email and password",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "Tokens issued", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials"}
                }
            }
        },
        "/auth/refresh": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Exchange refresh token for a new access token",
                "responses": {
                    "200": {"description": "Tokens rotated", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Expired or revoked token"}
                }
            }
        },
        "/auth/logout": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Revoke the current refresh token",
                "responses": {
                    "204": {"description": "Revoked"}
                }
            }
        },
        "/continuation-runs": {
            "get": {
                "tags": ["Continuation"],
                "summary": "List continuation runs for the organisation",
                "responses": {
                    "200": {"description": "Runs", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/continuation-runs/{id}": {
            "get": {
                "tags": ["Continuation"],
                "summary": "Get a run with its response rows",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Run detail", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found"}
                }
            }
        },
        "/continuation-runs/{id}/export": {
            "get": {
                "tags": ["Continuation"],
                "summary": "Export response rows as CSV or PDF",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]}
                ],
                "responses": {
                    "200": {"description": "File download"},
                    "404": {"description": "Not found"}
                }
            }
        },
        "/continuation-runs/actions": {
            "post": {
                "tags": ["Continuation"],
                "summary": "Apply a workflow action to a run",
                "description": "Dispatches on the action field: create, send, send_reminders, process_deadline, complete",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ActionRequest"}}
                ],
                "responses": {
                    "200": {"description": "Action applied", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "201": {"description": "Run created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid transition or payload"},
                    "409": {"description": "Duplicate active run"}
                }
            }
        },
        "/continuation/respond/{token}": {
            "get": {
                "tags": ["Responses"],
                "summary": "Preview the response page for an email link token",
                "parameters": [
                    {"name": "token", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Preview", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Invalid link"},
                    "429": {"description": "Rate limited"}
                }
            }
        },
        "/continuation/respond": {
            "post": {
                "tags": ["Responses"],
                "summary": "Submit a decision through an email link token",
                "responses": {
                    "200": {"description": "Recorded or already responded", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Run closed"},
                    "404": {"description": "Invalid link"},
                    "429": {"description": "Rate limited"}
                }
            }
        },
        "/continuation/portal/respond": {
            "post": {
                "tags": ["Responses"],
                "summary": "Submit a decision from the authenticated guardian portal",
                "responses": {
                    "200": {"description": "Recorded or already responded", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Not the student's guardian"}
                }
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "required": ["email", "password"],
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "ActionRequest": {
            "type": "object",
            "required": ["action"],
            "properties": {
                "action": {"type": "string", "enum": ["create", "send", "send_reminders", "process_deadline", "complete"]},
                "org_id": {"type": "string"},
                "current_term_id": {"type": "string"},
                "next_term_id": {"type": "string"},
                "notice_deadline": {"type": "string", "format": "date"},
                "assumed_continuing": {"type": "boolean"},
                "reminder_schedule": {"type": "array", "items": {"type": "integer"}},
                "run_id": {"type": "string"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"type": "object"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
