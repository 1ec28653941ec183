package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/peterbourgon/trclog"
)

var (
	errDivideByZero = errors.New("division by zero")
	errMalformed    = errors.New("malformed expression")
)

// calculator evaluates expressions like "84/2". Every step is traced, so a
// failed evaluation can be explained by the dump logged alongside it.
type calculator struct {
	tracer   *trclog.Tracer
	reporter reporter
	parse    func(ctx context.Context, expr string) (int, int, error)
	divide   func(ctx context.Context, a, b int) (int, error)
	check    func(ctx context.Context, q int) int
}

func newCalculator(tracer *trclog.Tracer, r reporter) *calculator {
	return &calculator{
		tracer:   tracer,
		reporter: r,
		parse:    trclog.Wrap(tracer, "calculator.parse", parseExpr, "expr"),
		divide:   trclog.Wrap(tracer, "calculator.divide", divide, "a", "b"),
		check:    trclog.Wrap(tracer, "", checkQuotient, "q"),
	}
}

// eval parses and evaluates the expression. Checks that fail do so by
// panicking, which eval recovers into an error.
func (c *calculator) eval(ctx context.Context, expr string) (int, error) {
	return trclog.Call(ctx, c.tracer, "calculator.eval", func(ctx context.Context) (q int, err error) {
		a, b, err := c.parse(ctx, expr)
		if err != nil {
			return 0, fmt.Errorf("parse: %w", err)
		}

		c.reporter.Debug(ctx, "parsed expression", "a", a, "b", b)

		q, err = c.divide(ctx, a, b)
		if err != nil {
			return 0, fmt.Errorf("divide: %w", err)
		}

		defer func() {
			if x := recover(); x != nil {
				q, err = 0, fmt.Errorf("check: %v", x)
			}
		}()

		return c.check(ctx, q), nil
	}, trclog.Param("expr", expr))
}

func parseExpr(ctx context.Context, expr string) (int, int, error) {
	lhs, rhs, ok := strings.Cut(expr, "/")
	if !ok {
		return 0, 0, errMalformed
	}
	a, err := strconv.Atoi(strings.TrimSpace(lhs))
	if err != nil {
		return 0, 0, err
	}
	b, err := strconv.Atoi(strings.TrimSpace(rhs))
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

func divide(ctx context.Context, a, b int) (int, error) {
	if b == 0 {
		return 0, errDivideByZero
	}
	return a / b, nil
}

func checkQuotient(ctx context.Context, q int) int {
	if q < 0 {
		panic(fmt.Sprintf("negative quotient %d", q))
	}
	return q
}
