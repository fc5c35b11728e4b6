// Command carouselbot runs the carousel generation choreography.
package main

func main() {
	Execute()
}
