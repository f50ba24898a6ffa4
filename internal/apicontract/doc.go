// Package apicontract holds black-box tests for the HTTP surface of a running
// seat monitor. They skip unless a server answers at MONITOR_BASE_URL
// (default http://localhost:8080).
package apicontract
