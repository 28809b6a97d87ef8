package main

//go:generate swag init -g cmd/syncd/main.go -o docs

// @title           NotionSync API
// @version         0.1.0
// @description     Notion workspace mirror: sync triggers, conflict review, and queue controls.
// @host            localhost:8080
// @BasePath        /
// @schemes         http
