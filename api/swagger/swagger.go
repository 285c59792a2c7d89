package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Credential Evaluation API",
        "description": "Foreign academic credential evaluation: document intake, extraction, US equivalency and review.",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http",
        "https"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "tags": [
        {"name": "Evaluations", "description": "Evaluation request lifecycle"},
        {"name": "Documents", "description": "Diploma and transcript uploads"},
        {"name": "Rules", "description": "Country grading and degree rule sets"},
        {"name": "Reports", "description": "Exported evaluation reports"}
    ],
    "paths": {
        "/evaluations": {
            "get": {
                "tags": ["Evaluations"],
                "summary": "List evaluation requests",
                "parameters": [
                    {"name": "studentRef", "in": "query", "type": "string"},
                    {"name": "countryCode", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string", "enum": ["Submitted", "AiProcessing", "HumanReview", "Completed", "Error"]},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "pageSize", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Evaluations"],
                "summary": "Submit an evaluation request",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SubmitEvaluationRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/evaluations/{id}": {
            "get": {
                "tags": ["Evaluations"],
                "summary": "Evaluation request with documents and result",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/evaluations/{id}/advance": {
            "post": {
                "tags": ["Evaluations"],
                "summary": "Extract, structure and evaluate a document",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "async", "in": "query", "type": "boolean"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AdvanceRequest"}}
                ],
                "responses": {
                    "200": {"description": "Evaluated", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "202": {"description": "Queued", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Request busy", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Invalid status", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Extraction failed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/evaluations/{id}/review": {
            "post": {
                "tags": ["Evaluations"],
                "summary": "Record a human review",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ReviewRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/evaluations/{id}/finalize": {
            "post": {
                "tags": ["Evaluations"],
                "summary": "Complete a reviewed evaluation",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "schema": {"$ref": "#/definitions/FinalizeRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Not in HumanReview", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/evaluations/{id}/reports": {
            "get": {
                "tags": ["Reports"],
                "summary": "List report jobs of a request",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Reports"],
                "summary": "Queue a report export",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ReportRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reports/{id}": {
            "get": {
                "tags": ["Reports"],
                "summary": "Report job status",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/export/{token}": {
            "get": {
                "tags": ["Reports"],
                "summary": "Download a generated report",
                "security": [],
                "produces": ["text/csv", "application/pdf", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"],
                "parameters": [
                    {"name": "token", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "File"},
                    "403": {"description": "Invalid or expired token", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/documents": {
            "post": {
                "tags": ["Documents"],
                "summary": "Upload a diploma or transcript",
                "consumes": ["multipart/form-data"],
                "parameters": [
                    {"name": "requestId", "in": "formData", "type": "string"},
                    {"name": "studentRef", "in": "formData", "type": "string"},
                    {"name": "documentType", "in": "formData", "required": true, "type": "string", "enum": ["Transcript", "Diploma", "Other"]},
                    {"name": "mediaType", "in": "formData", "type": "string"},
                    {"name": "file", "in": "formData", "required": true, "type": "file"}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "415": {"description": "Unsupported media type", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/documents/{id}": {
            "get": {
                "tags": ["Documents"],
                "summary": "Document metadata and extracted record",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/documents/{id}/reparse": {
            "post": {
                "tags": ["Documents"],
                "summary": "Discard and redo structured extraction",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/rules": {
            "get": {
                "tags": ["Rules"],
                "summary": "List stored rule sets",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/rules/{country}": {
            "get": {
                "tags": ["Rules"],
                "summary": "Rule set of a country, generated when missing",
                "parameters": [
                    {"name": "country", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "502": {"description": "Generation failed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "put": {
                "tags": ["Rules"],
                "summary": "Replace the rule set of a country",
                "parameters": [
                    {"name": "country", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpsertRuleSetRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "SubmitEvaluationRequest": {
            "type": "object",
            "properties": {
                "studentRef": {"type": "string"},
                "institution": {"type": "string"},
                "countryCode": {"type": "string"},
                "programName": {"type": "string"},
                "evaluationType": {"type": "string", "enum": ["DocumentByDocument", "CourseByCourse"]}
            },
            "required": ["studentRef"]
        },
        "AdvanceRequest": {
            "type": "object",
            "properties": {
                "documentId": {"type": "string"},
                "countryCode": {"type": "string"},
                "institution": {"type": "string"},
                "evaluationType": {"type": "string", "enum": ["DocumentByDocument", "CourseByCourse"]}
            },
            "required": ["documentId", "countryCode"]
        },
        "ReviewRequest": {
            "type": "object",
            "properties": {
                "humanReview": {"type": "object"},
                "notes": {"type": "string"}
            },
            "required": ["humanReview"]
        },
        "FinalizeRequest": {
            "type": "object",
            "properties": {
                "finalResult": {"type": "object"},
                "notes": {"type": "string"}
            }
        },
        "ReportRequest": {
            "type": "object",
            "properties": {
                "format": {"type": "string", "enum": ["csv", "pdf", "xlsx"]}
            },
            "required": ["format"]
        },
        "GradeConversion": {
            "type": "object",
            "properties": {
                "label": {"type": "string"},
                "min": {"type": "number"},
                "max": {"type": "number"}
            }
        },
        "DegreeEquivalence": {
            "type": "object",
            "properties": {
                "localDegree": {"type": "string"},
                "usEquivalent": {"type": "string"},
                "credits": {"type": "number"},
                "duration": {"type": "string"}
            }
        },
        "UpsertRuleSetRequest": {
            "type": "object",
            "properties": {
                "gradingScale": {
                    "type": "object",
                    "properties": {
                        "min": {"type": "number"},
                        "max": {"type": "number"},
                        "passing": {"type": "number"}
                    }
                },
                "gradeConversions": {
                    "type": "array",
                    "items": {"$ref": "#/definitions/GradeConversion"}
                },
                "degreeEquivalences": {
                    "type": "array",
                    "items": {"$ref": "#/definitions/DegreeEquivalence"}
                }
            },
            "required": ["gradingScale", "gradeConversions"]
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
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
