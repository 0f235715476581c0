package model

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

type MessageResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type PingResponse struct {
	Message string `json:"message"`
}

type RootResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status   string `json:"status"`
	Postgres string `json:"postgres"`
	Redis    string `json:"redis"`
}

type UserEnvelope struct {
	Status string       `json:"status"`
	Data   *UserSummary `json:"data"`
}

type UserListEnvelope struct {
	Status string        `json:"status"`
	Data   []UserSummary `json:"data"`
}
