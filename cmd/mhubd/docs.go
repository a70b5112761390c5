package main

// General API documentation for swaggo. Run `make swagger-gen` to generate docs.
//
// @title           mhubd API
// @version         1.0
// @description     HTTP API for managing containerized medical-imaging model runs.
//
// @contact.name   mhubd maintainers
// @contact.url    https://github.com/MHubAI/SlicerMHubRunner
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
