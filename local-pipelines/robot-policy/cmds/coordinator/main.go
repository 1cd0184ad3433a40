package main

import (
	"fmt"
	"log"
	"net/http"

	arg "github.com/alexflint/go-arg"
	"github.com/gorilla/mux"
	"github.com/robomosaic/robomosaic/robo-go/train/coord"
	_ "github.com/robomosaic/robomosaic/robo-golib/robolog"
)

func main() {
	args := struct {
		Port int
	}{
		Port: 3030,
	}
	arg.MustParse(&args)

	router := mux.NewRouter()
	coord.NewServer().SetupRoutes(router)

	addr := fmt.Sprintf(":%d", args.Port)
	log.Printf("coordinator listening on %s", addr)
	log.Fatalln(http.ListenAndServe(addr, router))
}
