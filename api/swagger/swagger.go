package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Classes API",
        "description": "Lesson scheduling, change negotiation and report tracking",
        "version": "1.0.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Auth", "description": "Login, refresh and session management"},
        {"name": "Patterns", "description": "Recurring schedule templates"},
        {"name": "Lessons", "description": "Scheduled class instances"},
        {"name": "Reschedules", "description": "Reschedule requests and decisions"},
        {"name": "Reports", "description": "Post-class report submission and tracking"},
        {"name": "Sweeps", "description": "Background maintenance jobs"}
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/metrics": {
            "get": {
                "summary": "Prometheus metrics",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/auth/login": {
            "post": {
                "tags": ["Auth"],
                "summary": "Authenticate with email and password",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials"}
                }
            }
        },
        "/auth/refresh": {
            "post": {
                "tags": ["Auth"],
                "summary": "Exchange a refresh token for a new token pair",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/logout": {
            "post": {
                "tags": ["Auth"],
                "security": [{"BearerAuth": []}],
                "summary": "Revoke a refresh token",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/auth/me": {
            "get": {
                "tags": ["Auth"],
                "security": [{"BearerAuth": []}],
                "summary": "Current authenticated user",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/patterns": {
            "post": {
                "tags": ["Patterns"],
                "security": [{"BearerAuth": []}],
                "summary": "Create a recurring pattern and materialize its instances",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreatePatternRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Slot conflict"},
                    "422": {"description": "Validation error"}
                }
            }
        },
        "/patterns/{id}": {
            "get": {
                "tags": ["Patterns"],
                "security": [{"BearerAuth": []}],
                "summary": "Fetch a pattern",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found"}
                }
            },
            "put": {
                "tags": ["Patterns"],
                "security": [{"BearerAuth": []}],
                "summary": "Edit a pattern and regenerate future instances",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdatePatternRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Patterns"],
                "security": [{"BearerAuth": []}],
                "summary": "Delete a pattern's lessons by scope",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/lessons": {
            "get": {
                "tags": ["Lessons"],
                "security": [{"BearerAuth": []}],
                "summary": "List lessons visible to the caller",
                "parameters": [
                    {"name": "teacherId", "in": "query", "type": "string"},
                    {"name": "guardianId", "in": "query", "type": "string"},
                    {"name": "studentId", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "from", "in": "query", "type": "string"},
                    {"name": "to", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "pageSize", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Lessons"],
                "security": [{"BearerAuth": []}],
                "summary": "Create a standalone lesson",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateLessonRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Slot conflict"}
                }
            }
        },
        "/lessons/holds": {
            "post": {
                "tags": ["Lessons"],
                "security": [{"BearerAuth": []}],
                "summary": "Place or release a hold on a date range",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/lessons/{id}": {
            "get": {
                "tags": ["Lessons"],
                "security": [{"BearerAuth": []}],
                "summary": "Fetch a lesson",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found"}
                }
            }
        },
        "/lessons/{id}/change-policy": {
            "get": {
                "tags": ["Lessons"],
                "security": [{"BearerAuth": []}],
                "summary": "Evaluate what the caller may do to this lesson",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/lessons/{id}/cancel": {
            "post": {
                "tags": ["Lessons"],
                "security": [{"BearerAuth": []}],
                "summary": "Cancel a scheduled lesson",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Policy denied"},
                    "409": {"description": "Already terminal"}
                }
            }
        },
        "/lessons/{id}/reschedule-requests": {
            "post": {
                "tags": ["Reschedules"],
                "security": [{"BearerAuth": []}],
                "summary": "Open a reschedule request",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RescheduleProposal"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Request already pending"}
                }
            }
        },
        "/lessons/{id}/reschedule-requests/decision": {
            "post": {
                "tags": ["Reschedules"],
                "security": [{"BearerAuth": []}],
                "summary": "Approve or reject the pending request",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RescheduleDecision"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/lessons/{id}/reschedule": {
            "post": {
                "tags": ["Reschedules"],
                "security": [{"BearerAuth": []}],
                "summary": "Move a lesson directly without a request",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/lessons/{id}/report": {
            "post": {
                "tags": ["Reports"],
                "security": [{"BearerAuth": []}],
                "summary": "Submit the post-class report",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SubmitReportRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Window expired"},
                    "409": {"description": "Lesson no longer reportable"}
                }
            }
        },
        "/lessons/{id}/report/status": {
            "get": {
                "tags": ["Reports"],
                "security": [{"BearerAuth": []}],
                "summary": "Submission window state for a lesson",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/lessons/{id}/report/extension": {
            "post": {
                "tags": ["Reports"],
                "security": [{"BearerAuth": []}],
                "summary": "Grant a submission extension",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Report already submitted"}
                }
            }
        },
        "/sweeps/{name}/run": {
            "post": {
                "tags": ["Sweeps"],
                "security": [{"BearerAuth": []}],
                "summary": "Run a maintenance sweep on demand",
                "parameters": [
                    {"name": "name", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Unknown sweep"}
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
        "CreatePatternRequest": {
            "type": "object",
            "properties": {
                "teacherId": {"type": "string"},
                "guardianId": {"type": "string"},
                "studentId": {"type": "string"},
                "timezone": {"type": "string"},
                "durationMinutes": {"type": "integer"},
                "startDate": {"type": "string"},
                "slots": {"type": "array", "items": {"$ref": "#/definitions/WeeklySlot"}}
            }
        },
        "UpdatePatternRequest": {
            "type": "object",
            "properties": {
                "timezone": {"type": "string"},
                "durationMinutes": {"type": "integer"},
                "slots": {"type": "array", "items": {"$ref": "#/definitions/WeeklySlot"}}
            }
        },
        "WeeklySlot": {
            "type": "object",
            "properties": {
                "dayOfWeek": {"type": "integer"},
                "startTime": {"type": "string"}
            }
        },
        "CreateLessonRequest": {
            "type": "object",
            "properties": {
                "teacherId": {"type": "string"},
                "guardianId": {"type": "string"},
                "studentId": {"type": "string"},
                "startsAt": {"type": "string"},
                "durationMinutes": {"type": "integer"},
                "timezone": {"type": "string"}
            }
        },
        "RescheduleProposal": {
            "type": "object",
            "properties": {
                "proposedStart": {"type": "string"},
                "note": {"type": "string"}
            }
        },
        "RescheduleDecision": {
            "type": "object",
            "properties": {
                "approve": {"type": "boolean"},
                "note": {"type": "string"}
            }
        },
        "SubmitReportRequest": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "content": {"type": "string"},
                "cancelReason": {"type": "string"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "pageSize": {"type": "integer"},
                "totalCount": {"type": "integer"}
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
                "pagination": {"$ref": "#/definitions/Pagination"},
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
