// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tutorial is the one-dimensional blocks domain.
//
// Blocks b0..b(n-1) start at poses 0..n-1 on a line and a robot at
// configuration 0 picks and places them. The goal puts b0 at pose 1, which
// is occupied by b1, so b1 must first be moved to a pose produced by the
// pose stream. Safety axioms forbid placing a block onto another block's
// pose.
package tutorial

import (
	"fmt"
	"math"

	"github.com/AleutianAI/tamp/services/tamp"
	"github.com/AleutianAI/tamp/services/tamp/model"
	"github.com/AleutianAI/tamp/services/tamp/stream"
)

// InitialCost is the total cost of the initial state.
const InitialCost = 2

// PickCost is the cost of one pick.
const PickCost = 10

// Predicates and functions of the domain.
var (
	Block = model.NewPredicate("Block", model.Params("?b"))
	Pose  = model.NewPredicate("Pose", model.Params("?p"))
	Conf  = model.NewPredicate("Conf", model.Params("?q"))

	Kin = model.NewPredicate("Kin", model.Params("?q ?p"),
		model.WithDomain(Conf.Atom("?q"), Pose.Atom("?p")))

	AtConf = model.NewPredicate("AtConf", model.Params("?q"),
		model.WithDomain(Conf.Atom("?q")))
	AtPose = model.NewPredicate("AtPose", model.Params("?b ?p"),
		model.WithDomain(Block.Atom("?b"), Pose.Atom("?p")))
	Holding = model.NewPredicate("Holding", model.Params("?b"),
		model.WithDomain(Block.Atom("?b")))
	HandEmpty = model.NewPredicate("HandEmpty", nil)

	Safe   = model.NewPredicate("Safe", model.Params("?b ?p"))
	Unsafe = model.NewPredicate("Unsafe", model.Params("?b ?p"))

	Collision = model.NewPredicate("Collision", model.Params("?p1 ?p2"),
		model.WithDomain(Pose.Atom("?p1"), Pose.Atom("?p2")),
		model.WithFn(func(args ...model.Object) model.Object { return sameNumber(args[0], args[1]) }),
		model.WithBound(false))
	CFree = model.NewPredicate("CFree", model.Params("?p1 ?p2"),
		model.WithDomain(Pose.Atom("?p1"), Pose.Atom("?p2")),
		model.WithFn(func(args ...model.Object) model.Object { return !sameNumber(args[0], args[1]) }))

	Distance = model.NewFunction("Distance", model.Params("?q1 ?q2"),
		model.WithDomain(Conf.Atom("?q1"), Conf.Atom("?q2")),
		model.WithFn(func(args ...model.Object) model.Object {
			q1, _ := model.Number(args[0])
			q2, _ := model.Number(args[1])
			return math.Abs(q2-q1) + 2
		}),
		model.WithBound(2))
)

func sameNumber(a, b model.Object) bool {
	x, ok1 := model.Number(a)
	y, ok2 := model.Number(b)
	if ok1 && ok2 {
		return x == y
	}
	return model.ObjectKey(a) == model.ObjectKey(b)
}

// BlockName is the object naming block i.
func BlockName(i int) string { return fmt.Sprintf("b%d", i) }

// Build creates the problem with n blocks.
//
// Description:
//
//	Block i starts at pose i. The pose stream produces the single new pose
//	n; the inverse kinematics stream maps every pose p to configuration p.
//	One Place action per block carries Safe preconditions for every other
//	block. Moving costs Distance and picking costs PickCost; the initial
//	cost is InitialCost.
//
// Inputs:
//
//	n - Number of blocks; at least 2.
//
// Outputs:
//
//	*tamp.Problem - The problem, with fresh stream instances.
//	error         - Non-nil if n is below 2.
func Build(n int) (*tamp.Problem, error) {
	if n < 2 {
		return nil, fmt.Errorf("tutorial needs at least 2 blocks, got %d", n)
	}
	poses, err := stream.Gen("sample-pose", nil, nil,
		func(...model.Object) func() (stream.Tuple, bool) {
			next := n
			return func() (stream.Tuple, bool) {
				if next > n {
					return nil, false
				}
				p := next
				next++
				return stream.Tuple{p}, true
			}
		},
		model.Params("?p"), []model.Literal{Pose.Atom("?p")})
	if err != nil {
		return nil, err
	}
	ik, err := stream.Fn("inverse-kinematics", model.Params("?p"), []model.Literal{Pose.Atom("?p")},
		func(in ...model.Object) stream.Tuple { return stream.Tuple{in[0]} },
		model.Params("?q"), []model.Literal{Kin.Atom("?q", "?p")})
	if err != nil {
		return nil, err
	}

	actions := []*model.Action{
		model.MustAction("Move", model.Params("?q1 ?q2"),
			[]model.Literal{AtConf.Atom("?q1"), Conf.Atom("?q1"), Conf.Atom("?q2")},
			[]model.Literal{AtConf.Atom("?q2"), AtConf.Not("?q1"), model.CostIncrease(Distance.Head("?q1", "?q2"))}),
		model.MustAction("Pick", model.Params("?b ?p ?q"),
			[]model.Literal{AtPose.Atom("?b", "?p"), HandEmpty.Atom(), AtConf.Atom("?q"), Block.Atom("?b"), Kin.Atom("?q", "?p")},
			[]model.Literal{Holding.Atom("?b"), AtPose.Not("?b", "?p"), HandEmpty.Not(), model.CostIncrease(PickCost)}),
	}
	for i := 0; i < n; i++ {
		b := BlockName(i)
		pre := []model.Literal{Holding.Atom(b), AtConf.Atom("?q"), Block.Atom(b), Kin.Atom("?q", "?p")}
		for j := 0; j < n; j++ {
			if j != i {
				pre = append(pre, Safe.Atom(BlockName(j), "?p"))
			}
		}
		actions = append(actions, model.MustAction("Place-"+b, model.Params("?p ?q"), pre,
			[]model.Literal{AtPose.Atom(b, "?p"), HandEmpty.Atom(), Holding.Not(b)}))
	}

	axioms := []*model.Axiom{
		model.MustAxiom(model.Params("?p1 ?b2 ?p2"),
			[]model.Literal{AtPose.Atom("?b2", "?p2"), Block.Atom("?b2"), CFree.Atom("?p1", "?p2")},
			Safe.Atom("?b2", "?p1")),
		model.MustAxiom(model.Params("?p1 ?b2 ?p2"),
			[]model.Literal{AtPose.Atom("?b2", "?p2"), Block.Atom("?b2"), Collision.Atom("?p1", "?p2")},
			Unsafe.Atom("?b2", "?p1")),
	}

	initial := []model.Literal{
		HandEmpty.Atom(),
		AtConf.Atom(0),
		Pose.Atom(1),
		model.NewInit(model.TotalCost.Head(), InitialCost),
	}
	for i := 0; i < n; i++ {
		initial = append(initial, AtPose.Atom(BlockName(i), i))
	}
	goal := []model.Literal{AtPose.Atom(BlockName(0), 1)}

	return tamp.NewProblem(initial, goal, actions, axioms,
		[]*stream.Stream{poses, ik}, tamp.MinimizeCost())
}
