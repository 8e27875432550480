// Package docs holds the OpenAPI description served under /docs.
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
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.HealthResponse"}}
                }
            }
        },
        "/jobs": {
            "get": {
                "security": [{"ApiKeyAuth": []}],
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "List jobs",
                "parameters": [
                    {"type": "string", "description": "queued, running, completed, failed or cancelled", "name": "status", "in": "query"},
                    {"type": "string", "description": "Requester (role)", "name": "requested_by", "in": "query"},
                    {"type": "integer", "default": 20, "description": "Page size [1, 100]", "name": "limit", "in": "query"},
                    {"type": "integer", "default": 0, "description": "Page offset", "name": "offset", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.JobListResponse"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "post": {
                "security": [{"ApiKeyAuth": []}],
                "consumes": ["multipart/form-data"],
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Create a job",
                "parameters": [
                    {"type": "file", "description": "Video file (.mp4, .avi, .mov, .mkv)", "name": "file", "in": "formData", "required": true},
                    {"type": "integer", "default": 240, "description": "Frames to process [10, 4000]", "name": "max_frames", "in": "formData"},
                    {"type": "integer", "default": 30, "description": "Nominal frame rate [1, 120]", "name": "fps", "in": "formData"},
                    {"type": "integer", "default": 30, "description": "Frames between text reads [1, 300]", "name": "ocr_interval", "in": "formData"},
                    {"type": "integer", "default": 5, "description": "Frames between clustering passes [1, 120]", "name": "clustering_interval", "in": "formData"},
                    {"type": "boolean", "default": true, "description": "Use the built-in mock models", "name": "mock_mode", "in": "formData"},
                    {"type": "boolean", "default": true, "description": "Return immediately instead of waiting for the run", "name": "async_mode", "in": "formData"},
                    {"type": "string", "default": "[]", "description": "JSON list of zones", "name": "zones_json", "in": "formData"},
                    {"type": "string", "description": "Deduplicates retried submissions per requester", "name": "Idempotency-Key", "in": "header"}
                ],
                "responses": {
                    "200": {"description": "Existing job for the idempotency key", "schema": {"$ref": "#/definitions/models.Job"}},
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/models.Job"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "413": {"description": "Request Entity Too Large", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/jobs/{id}": {
            "get": {
                "security": [{"ApiKeyAuth": []}],
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Get a job",
                "parameters": [{"type": "string", "description": "Job ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.Job"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/jobs/{id}/cancel": {
            "post": {
                "security": [{"ApiKeyAuth": []}],
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Cancel a job",
                "parameters": [{"type": "string", "description": "Job ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.CancelResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/jobs/{id}/retry": {
            "post": {
                "security": [{"ApiKeyAuth": []}],
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Retry a job",
                "parameters": [{"type": "string", "description": "Job ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/models.Job"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/jobs/{id}/events": {
            "get": {
                "security": [{"ApiKeyAuth": []}],
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "List job events",
                "parameters": [
                    {"type": "string", "description": "Job ID", "name": "id", "in": "path", "required": true},
                    {"type": "string", "description": "ZONE_ENTRY, ZONE_EXIT or STATIONARY_WARNING (case-insensitive)", "name": "event_type", "in": "query"},
                    {"type": "string", "description": "info or warning (case-insensitive)", "name": "severity", "in": "query"},
                    {"type": "integer", "default": 100, "description": "Page size [1, 1000]", "name": "limit", "in": "query"},
                    {"type": "integer", "default": 0, "description": "Page offset", "name": "offset", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.JobEventsResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/jobs/{id}/artifacts/video": {
            "get": {
                "security": [{"ApiKeyAuth": []}],
                "produces": ["video/mp4"],
                "tags": ["artifacts"],
                "summary": "Download the annotated video",
                "parameters": [{"type": "string", "description": "Job ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "file"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/jobs/{id}/artifacts/analytics": {
            "get": {
                "security": [{"ApiKeyAuth": []}],
                "produces": ["application/json"],
                "tags": ["artifacts"],
                "summary": "Download the analytics JSONL",
                "parameters": [{"type": "string", "description": "Job ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "file"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/metrics/jobs": {
            "get": {
                "security": [{"ApiKeyAuth": []}],
                "produces": ["application/json"],
                "tags": ["metrics"],
                "summary": "Job metrics",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.JobMetrics"}}
                }
            }
        }
    },
    "definitions": {
        "handlers.CancelResponse": {
            "type": "object",
            "properties": {
                "cancel_requested": {"type": "boolean"},
                "job_id": {"type": "string"},
                "status": {"type": "string", "example": "cancelled"}
            }
        },
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "detail": {"type": "string", "example": "Job not found"},
                "request_id": {"type": "string"}
            }
        },
        "handlers.HealthResponse": {
            "type": "object",
            "properties": {
                "runtime_dir": {"type": "string"},
                "service": {"type": "string"},
                "status": {"type": "string", "example": "ok"},
                "timestamp": {"type": "string"},
                "version": {"type": "string"},
                "worker_id": {"type": "string"}
            }
        },
        "handlers.JobEventsResponse": {
            "type": "object",
            "properties": {
                "count": {"type": "integer"},
                "items": {"type": "array", "items": {"$ref": "#/definitions/models.Event"}},
                "job_id": {"type": "string"}
            }
        },
        "handlers.JobListResponse": {
            "type": "object",
            "properties": {
                "items": {"type": "array", "items": {"$ref": "#/definitions/models.Job"}},
                "total": {"type": "integer"}
            }
        },
        "models.Event": {
            "type": "object",
            "properties": {
                "details": {"type": "string"},
                "frame": {"type": "integer"},
                "object_id": {"type": "integer"},
                "severity": {"type": "string", "example": "warning"},
                "type": {"type": "string", "example": "ZONE_ENTRY"}
            }
        },
        "models.Job": {
            "type": "object",
            "properties": {
                "cancel_requested": {"type": "boolean"},
                "config": {"type": "object"},
                "created_at": {"type": "string"},
                "error_message": {"type": "string"},
                "idempotency_key": {"type": "string"},
                "job_id": {"type": "string"},
                "max_frames": {"type": "integer"},
                "processed_frames": {"type": "integer"},
                "progress": {"type": "number"},
                "requested_by": {"type": "string"},
                "retry_of": {"type": "string"},
                "status": {"type": "string", "example": "queued"},
                "summary": {"type": "object"},
                "updated_at": {"type": "string"},
                "zones": {"type": "array", "items": {"type": "object"}}
            }
        },
        "models.JobMetrics": {
            "type": "object",
            "properties": {
                "avg_processing_fps": {"type": "number"},
                "cancelled": {"type": "integer"},
                "completed": {"type": "integer"},
                "failed": {"type": "integer"},
                "queued": {"type": "integer"},
                "running": {"type": "integer"},
                "total_jobs": {"type": "integer"}
            }
        }
    },
    "securityDefinitions": {
        "ApiKeyAuth": {"type": "apiKey", "name": "X-API-Key", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{"http", "https"},
	Title:            "Kepler Vision API",
	Description:      "Job control plane of the video analytics pipeline: uploads, runs, events and artifacts",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
