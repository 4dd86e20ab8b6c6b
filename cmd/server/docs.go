package main

//go:generate swag init -g cmd/server/main.go -o docs

// @title           Pollmarket API
// @version         0.1.0
// @description     Pari-mutuel poll settlement and season ranking service.
// @host            localhost:8080
// @BasePath        /
// @schemes         http

// @securityDefinitions.apikey BearerAuth
// @in   header
// @name Authorization
