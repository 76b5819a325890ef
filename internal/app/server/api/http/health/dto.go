package health

type Input struct{}

type Output struct {
	Body Response
}

type Response struct {
	Status string `json:"status" example:"OK" doc:"Health status of the service"`
	Store  string `json:"store" example:"postgres" doc:"Configured record store driver"`
}
