package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "BrightFund Review API",
        "description": "Application review workflow engine",
        "version": "0.1.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Workflows", "description": "Workflow and stage configuration"},
        {"name": "Stages", "description": "Stage ordering and reviewer configs"},
        {"name": "Rubrics", "description": "Scoring rubric management"},
        {"name": "Reviewers", "description": "Reviewer invitations and sessions"},
        {"name": "Applications", "description": "Application pipeline operations"},
        {"name": "Analytics", "description": "Review analytics and exports"}
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
                    "200": {"description": "Ready"}
                }
            }
        },
        "/workflows": {
            "get": {
                "tags": ["Workflows"],
                "summary": "List workflows",
                "parameters": [
                    {"name": "workspaceId", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Workflows"],
                "summary": "Create workflow",
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/workflows/{id}/stages": {
            "get": {
                "tags": ["Stages"],
                "summary": "List stages in order",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/workflows/{id}/stages/reorder": {
            "post": {
                "tags": ["Stages"],
                "summary": "Move a stage before another stage",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/applications": {
            "get": {
                "tags": ["Applications"],
                "summary": "List applications matching a filter",
                "parameters": [
                    {"name": "formId", "in": "query", "required": true, "type": "string"},
                    {"name": "stageId", "in": "query", "type": "string"},
                    {"name": "workflowId", "in": "query", "type": "string"},
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "scoreMin", "in": "query", "type": "number"},
                    {"name": "scoreMax", "in": "query", "type": "number"},
                    {"name": "tags", "in": "query", "type": "string"},
                    {"name": "reviewed", "in": "query", "type": "boolean"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/assignments/bulk": {
            "post": {
                "tags": ["Applications"],
                "summary": "Place applications into a workflow",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "207": {"description": "Partial failure", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/analytics/report": {
            "get": {
                "tags": ["Analytics"],
                "summary": "Analytics report for one workflow",
                "parameters": [
                    {"name": "formId", "in": "query", "required": true, "type": "string"},
                    {"name": "workflowId", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "limit": {"type": "integer"},
                "total": {"type": "integer"}
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
