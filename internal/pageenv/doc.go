// Package pageenv holds the Environment the controller and its
// strategies are constructed with: the main scheduler, the debounce
// bound, and the clock/randomness source.
package pageenv
